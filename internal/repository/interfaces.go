// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/registre/internal/model"
)

// PersonneRepository は人物データの永続化インターフェース。
// すべてのSQLはバインドパラメータのみを使用する。
type PersonneRepository interface {
	// List は全件をID順で取得する。
	List(ctx context.Context) ([]model.Personne, error)

	// FindByID は指定IDの人物を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Personne, error)

	// Insert は人物を作成し、採番されたIDを返す。nomの検証は呼び出し側で行う。
	Insert(ctx context.Context, nom string, adresse *string) (model.MutationResult, error)

	// Update はnomとadresseを置き換える。該当なしの場合はRowsAffected=0を返す。
	Update(ctx context.Context, id int64, nom string, adresse *string) (model.MutationResult, error)

	// Delete は指定IDの人物を削除する。該当なしの場合はRowsAffected=0を返す。
	Delete(ctx context.Context, id int64) (model.MutationResult, error)

	// Count は登録件数を返す。
	Count(ctx context.Context) (int64, error)
}

// SessionRepository は認証セッション（Grant）の保管インターフェース。
// 認証ゲートと認証ハンドラーの間で共有される。
type SessionRepository interface {
	// Save はGrantを保存する。同じIDが存在する場合は上書きする。
	Save(ctx context.Context, grant *model.Grant) error
	// FindByID は指定IDのGrantを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Grant, error)
	// DeleteByID は指定IDのGrantを削除する。
	DeleteByID(ctx context.Context, id string) error
	// Close はバックグラウンド処理と接続を解放する。
	Close() error
}

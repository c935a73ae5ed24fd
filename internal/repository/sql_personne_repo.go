package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/registre/internal/model"
)

// SQLはすべて?プレースホルダで記述し、ドライバに合わせてRebindする。
const (
	queryListPersonnes  = `SELECT id, nom, adresse FROM personnes ORDER BY id`
	queryFindPersonne   = `SELECT id, nom, adresse FROM personnes WHERE id = ?`
	queryInsertPersonne = `INSERT INTO personnes (nom, adresse) VALUES (?, ?) RETURNING id`
	queryUpdatePersonne = `UPDATE personnes SET nom = ?, adresse = ? WHERE id = ?`
	queryDeletePersonne = `DELETE FROM personnes WHERE id = ?`
	queryCountPersonnes = `SELECT COUNT(*) FROM personnes`
)

// SQLPersonneRepo はsqlxを使用した人物リポジトリ。
// SQLiteとPostgreSQLの両方で動作する。
type SQLPersonneRepo struct {
	db *sqlx.DB
}

// NewSQLPersonneRepo はSQLPersonneRepoを生成する。
func NewSQLPersonneRepo(db *sqlx.DB) *SQLPersonneRepo {
	return &SQLPersonneRepo{db: db}
}

// List は全件をID順で取得する。
func (r *SQLPersonneRepo) List(ctx context.Context) ([]model.Personne, error) {
	personnes := []model.Personne{}
	if err := r.db.SelectContext(ctx, &personnes, r.db.Rebind(queryListPersonnes)); err != nil {
		return nil, model.NewStoreError("list", err)
	}
	return personnes, nil
}

// FindByID は指定IDの人物を取得する。見つからない場合はnilを返す。
func (r *SQLPersonneRepo) FindByID(ctx context.Context, id int64) (*model.Personne, error) {
	var p model.Personne
	err := r.db.GetContext(ctx, &p, r.db.Rebind(queryFindPersonne), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStoreError("find", err)
	}
	return &p, nil
}

// Insert は人物を作成し、採番されたIDを返す。
func (r *SQLPersonneRepo) Insert(ctx context.Context, nom string, adresse *string) (model.MutationResult, error) {
	var id int64
	if err := r.db.QueryRowxContext(ctx, r.db.Rebind(queryInsertPersonne), nom, adresse).Scan(&id); err != nil {
		return model.MutationResult{}, model.NewStoreError("insert", err)
	}
	return model.MutationResult{RowsAffected: 1, LastInsertID: id}, nil
}

// Update はnomとadresseを置き換える。
func (r *SQLPersonneRepo) Update(ctx context.Context, id int64, nom string, adresse *string) (model.MutationResult, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(queryUpdatePersonne), nom, adresse, id)
	if err != nil {
		return model.MutationResult{}, model.NewStoreError("update", err)
	}
	return mutationResult(result, id)
}

// Delete は指定IDの人物を削除する。
func (r *SQLPersonneRepo) Delete(ctx context.Context, id int64) (model.MutationResult, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(queryDeletePersonne), id)
	if err != nil {
		return model.MutationResult{}, model.NewStoreError("delete", err)
	}
	return mutationResult(result, id)
}

// Count は登録件数を返す。
func (r *SQLPersonneRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(queryCountPersonnes)); err != nil {
		return 0, model.NewStoreError("count", err)
	}
	return n, nil
}

// mutationResult はsql.Resultから影響行数を取り出す。
// lib/pqはLastInsertIdに対応しないため、対象IDをそのまま返す。
func mutationResult(result sql.Result, id int64) (model.MutationResult, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return model.MutationResult{}, model.NewStoreError("rows_affected", err)
	}
	return model.MutationResult{RowsAffected: n, LastInsertID: id}, nil
}

// compile-time interface check
var _ PersonneRepository = (*SQLPersonneRepo)(nil)

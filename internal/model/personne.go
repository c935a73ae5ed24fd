// Package model はドメインモデルを定義する。
package model

// Personne は登録簿に記録される人物を表す。
// IDはストアが採番し、以後変更されない。
type Personne struct {
	ID      int64   `json:"id" db:"id"`
	Nom     string  `json:"nom" db:"nom"`
	Adresse *string `json:"adresse" db:"adresse"`
}

// MutationResult は更新系SQLの実行結果を表す。
// 影響行数と採番されたIDを明示的に返す。
type MutationResult struct {
	RowsAffected int64
	LastInsertID int64
}

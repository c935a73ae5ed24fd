package model

import "errors"

// 定義済みエラー
var (
	// ErrNotFound は対象の人物が存在しないことを示す。
	ErrNotFound = errors.New("personne not found")
	// ErrNomRequired は必須項目nomが未指定であることを示す。
	ErrNomRequired = errors.New("nom is required")

	// ErrUnauthenticated は資格情報がない、または無効であることを示す。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionExpired はセッションのトークンが失効し、更新もできないことを示す。
	ErrSessionExpired = errors.New("session expired")
)

// クライアントに返すエラーメッセージ
const (
	MsgNomRequired      = "Le nom est requis"
	MsgNotFound         = "Personne non trouvée"
	MsgNotFoundUpdate   = "Personne non trouvée pour la mise à jour"
	MsgNotFoundDelete   = "Personne non trouvée pour la suppression"
	MsgInvalidBody      = "Corps de requête invalide"
	MsgAccessDenied     = "Accès refusé"
	MsgInternalError    = "Erreur interne du serveur"
	MsgTooManyRequests  = "Trop de requêtes, réessayez plus tard"
	MsgCSRFInvalid      = "Jeton CSRF invalide"
	MsgServiceUnhealthy = "Base de données indisponible"
	MsgInvalidState     = "Paramètre state invalide"
	MsgMissingCode      = "Code d'autorisation manquant"
	MsgAuthUnavailable  = "Service d'authentification indisponible"
)

// StoreError はストア（DBドライバ）由来のエラーを表す。
// Error()はドライバのメッセージをそのまま返す。
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError はStoreErrorを生成する。
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *StoreError) Error() string {
	return e.Err.Error()
}

// Unwrap は元のドライバエラーを返す。
func (e *StoreError) Unwrap() error {
	return e.Err
}

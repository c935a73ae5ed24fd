package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/registre/internal/model"
)

// successMessage は成功レスポンスのmessageフィールドの値。
const successMessage = "success"

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Error string `json:"error"`
}

// SuccessResponseBody はAPI成功レスポンスの統一フォーマット。
// Dataがnilの場合はdataフィールドを省略する。
type SuccessResponseBody struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON は任意の値をJSONレスポンスとして書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponseBody{Error: message})
}

// WriteSuccessResponse は統一成功フォーマットでレスポンスを書き込む。
func WriteSuccessResponse(w http.ResponseWriter, statusCode int, data any) {
	WriteJSON(w, statusCode, SuccessResponseBody{Message: successMessage, Data: data})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.MsgInternalError)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/registre/internal/middleware"
	"github.com/hitoshi/registre/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// PersonneServiceInterface は人物ハンドラーが必要とするサービスインターフェース。
type PersonneServiceInterface interface {
	List(ctx context.Context) ([]model.Personne, error)
	Get(ctx context.Context, id int64) (*model.Personne, error)
	Create(ctx context.Context, nom string, adresse *string) (*model.Personne, error)
	Update(ctx context.Context, id int64, nom string, adresse *string) (*model.Personne, error)
	Delete(ctx context.Context, id int64) error
}

// PersonneHandler は人物登録簿のHTTPハンドラー。
type PersonneHandler struct {
	service PersonneServiceInterface
}

// NewPersonneHandler はPersonneHandlerを生成する。
func NewPersonneHandler(service PersonneServiceInterface) *PersonneHandler {
	return &PersonneHandler{service: service}
}

// personneRequest は登録・更新リクエストのボディ。
type personneRequest struct {
	Nom     jsonText `json:"nom"`
	Adresse jsonText `json:"adresse"`
}

// jsonText は任意のJSON値をテキスト列として受け取る。
// 文字列はそのまま、数値・真偽値はJSON表記、オブジェクトと配列はコンパクトなJSONとして保持する。
// nullと未指定は値なしとして扱う。
type jsonText struct {
	value string
	set   bool
	falsy bool // false, 0, "" のいずれか
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (t *jsonText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*t = jsonText{}
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '"':
		if err := json.Unmarshal(data, &t.value); err != nil {
			return err
		}
		t.set, t.falsy = true, t.value == ""
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		t.value, t.set = buf.String(), true
	default:
		var n json.Number
		var b bool
		switch {
		case json.Unmarshal(data, &b) == nil:
			t.falsy = !b
		case json.Unmarshal(data, &n) == nil:
			f, err := n.Float64()
			t.falsy = err == nil && f == 0
		default:
			return fmt.Errorf("unsupported JSON value %q", data)
		}
		t.value, t.set = string(data), true
	}
	return nil
}

// required は必須項目として読み出す。値なしや偽値は空文字になる。
func (t jsonText) required() string {
	if !t.set || t.falsy {
		return ""
	}
	return t.value
}

// optional は任意項目として読み出す。値なしはnilになる。
func (t jsonText) optional() *string {
	if !t.set {
		return nil
	}
	v := t.value
	return &v
}

// ListPersonnes は全件を返す。
// GET /personnes
func (h *PersonneHandler) ListPersonnes(w http.ResponseWriter, r *http.Request) {
	personnes, err := h.service.List(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err, model.MsgNotFound)
		return
	}
	if personnes == nil {
		personnes = []model.Personne{}
	}
	middleware.WriteSuccessResponse(w, http.StatusOK, personnes)
}

// GetPersonne は指定IDの人物を返す。
// GET /personnes/{id}
func (h *PersonneHandler) GetPersonne(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.MsgNotFound)
		return
	}

	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err, model.MsgNotFound)
		return
	}
	middleware.WriteSuccessResponse(w, http.StatusOK, p)
}

// CreatePersonne は人物を登録する。
// POST /personnes
func (h *PersonneHandler) CreatePersonne(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePersonneRequest(w, r)
	if !ok {
		return
	}

	p, err := h.service.Create(r.Context(), req.Nom.required(), req.Adresse.optional())
	if err != nil {
		h.handleServiceError(w, r, err, model.MsgNotFound)
		return
	}
	middleware.WriteSuccessResponse(w, http.StatusOK, p)
}

// UpdatePersonne は人物のnomとadresseを置き換える。
// PUT /personnes/{id}
func (h *PersonneHandler) UpdatePersonne(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePersonneRequest(w, r)
	if !ok {
		return
	}

	// nomの検証はIDの解釈より先に行う
	if req.Nom.required() == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.MsgNomRequired)
		return
	}

	id, ok := parseID(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.MsgNotFoundUpdate)
		return
	}

	p, err := h.service.Update(r.Context(), id, req.Nom.required(), req.Adresse.optional())
	if err != nil {
		h.handleServiceError(w, r, err, model.MsgNotFoundUpdate)
		return
	}
	middleware.WriteSuccessResponse(w, http.StatusOK, p)
}

// DeletePersonne は人物を削除する。
// DELETE /personnes/{id}
func (h *PersonneHandler) DeletePersonne(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.MsgNotFoundDelete)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err, model.MsgNotFoundDelete)
		return
	}
	middleware.WriteSuccessResponse(w, http.StatusOK, nil)
}

// parseID はパスパラメータのIDを解釈する。
// 数値でないIDは存在しないIDとして扱う。
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// decodePersonneRequest はリクエストボディを解析する。
// 空のボディは{}として扱う。解析に失敗した場合は400を書き込みfalseを返す。
func decodePersonneRequest(w http.ResponseWriter, r *http.Request) (personneRequest, bool) {
	var req personneRequest

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.MsgInvalidBody)
		return req, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, true
	}
	if err := json.Unmarshal(body, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.MsgInvalidBody)
		return req, false
	}
	return req, true
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// ストアエラーは原因を区別せず400とし、ドライバのメッセージをそのまま返す。
func (h *PersonneHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	var storeErr *model.StoreError
	switch {
	case errors.Is(err, model.ErrNomRequired):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.MsgNomRequired)
	case errors.Is(err, model.ErrNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, notFoundMsg)
	case errors.As(err, &storeErr):
		slog.Warn("store error",
			slog.String("op", storeErr.Op),
			slog.String("path", r.URL.Path),
			slog.String("error", storeErr.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, storeErr.Error())
	default:
		slog.Error("unexpected service error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteInternalServerError(w)
	}
}

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// requestMetaContextKey はリクエスト単位のログ情報を格納するためのキー。
var requestMetaContextKey = contextKey("request_meta")

// requestMeta はロギングミドルウェアより内側で判明する情報を受け渡す。
type requestMeta struct {
	mu   sync.Mutex
	id   string
	user string
}

// setRequestUser は認証済みユーザー名をリクエストログに記録する。
func setRequestUser(ctx context.Context, user string) {
	if m, ok := ctx.Value(requestMetaContextKey).(*requestMeta); ok {
		m.mu.Lock()
		m.user = user
		m.mu.Unlock()
	}
}

// RequestIDFromContext はリクエストIDを返す。ロギングミドルウェア外では空文字。
func RequestIDFromContext(ctx context.Context) string {
	if m, ok := ctx.Value(requestMetaContextKey).(*requestMeta); ok {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.id
	}
	return ""
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、user（認証済みの場合）を含む。
// リクエストIDは受信したX-Request-IDを引き継ぎ、なければUUIDを採番する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)

			// リカバリーミドルウェアが用意したrequestMetaがあれば共有する
			meta, ok := r.Context().Value(requestMetaContextKey).(*requestMeta)
			if !ok {
				meta = &requestMeta{}
				r = r.WithContext(context.WithValue(r.Context(), requestMetaContextKey, meta))
			}
			meta.mu.Lock()
			meta.id = requestID
			meta.mu.Unlock()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
				slog.String("request_id", requestID),
			}

			// 認証ゲートがユーザーを記録した場合は追加
			meta.mu.Lock()
			user := meta.user
			meta.mu.Unlock()
			if user != "" {
				attrs = append(attrs, slog.String("user", user))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラー内のpanicを捕捉し、500のJSONエラーに変換する。
// ロギングミドルウェアより外側に置くため、リクエストIDとユーザーはrequestMetaから読む。
// http.ErrAbortHandlerはnet/httpに処理させるため再度panicする。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := &requestMeta{}
			ctx := r.Context()
			if existing, ok := ctx.Value(requestMetaContextKey).(*requestMeta); ok {
				meta = existing
			} else {
				r = r.WithContext(context.WithValue(ctx, requestMetaContextKey, meta))
			}

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				meta.mu.Lock()
				id, user := meta.id, meta.user
				meta.mu.Unlock()

				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", id),
					slog.String("user", user),
					slog.String("stack", string(debug.Stack())),
				)
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

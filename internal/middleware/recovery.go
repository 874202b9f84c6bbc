package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicRecorder はpanic発生回数を記録する。
type PanicRecorder interface {
	RecordPanic()
}

// NewRecoveryMiddleware はハンドラーのpanicを500レスポンスに変換するミドルウェアを返す。
// http.ErrAbortHandlerは接続切断の合図なので握りつぶさずに再送出する。recorderはnilでもよい。
func NewRecoveryMiddleware(recorder PanicRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if recorder != nil {
					recorder.RecordPanic()
				}
				slog.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rec),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				WriteInternalServerError(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// serveLogged はハンドラーをロギングミドルウェア越しに1回実行し、出力されたログ行を返す。
func serveLogged(t *testing.T, req *http.Request, h http.Handler) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	w := httptest.NewRecorder()
	NewLoggingMiddleware(logger)(h).ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry, w
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	entry, _ := serveLogged(t,
		httptest.NewRequest(http.MethodGet, "/admin/podcasts", nil),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" || entry["path"] != "/admin/podcasts" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want non-negative number", entry["duration_ms"])
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id should be omitted for unauthenticated request")
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusFound, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusUnprocessableEntity, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			entry, _ := serveLogged(t,
				httptest.NewRequest(http.MethodPost, "/admin/podcasts/1/fetch", nil),
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
				}),
			)
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
		})
	}
}

func TestLoggingMiddleware_ImplicitOKOnWrite(t *testing.T) {
	entry, _ := serveLogged(t,
		httptest.NewRequest(http.MethodGet, "/health", nil),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		}),
	)
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		var seen string
		entry, w := serveLogged(t,
			httptest.NewRequest(http.MethodGet, "/health", nil),
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}),
		)
		id := w.Header().Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("response %s = %q, want a UUID", RequestIDHeader, id)
		}
		if seen != id || entry["request_id"] != id {
			t.Errorf("request id mismatch: header=%q context=%q log=%v", id, seen, entry["request_id"])
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "edge-123")
		entry, w := serveLogged(t, req, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		if w.Header().Get(RequestIDHeader) != "edge-123" || entry["request_id"] != "edge-123" {
			t.Errorf("incoming request id should be kept, got %q / %v", w.Header().Get(RequestIDHeader), entry["request_id"])
		}
	})

	t.Run("oversized is replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
		_, w := serveLogged(t, req, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		if _, err := uuid.Parse(w.Header().Get(RequestIDHeader)); err != nil {
			t.Errorf("oversized request id should be replaced with a UUID, got %q", w.Header().Get(RequestIDHeader))
		}
	})
}

// TestLoggingMiddleware_UserIDFromSessionMiddleware は内側のセッションミドルウェアが
// 認証したユーザーIDが外側のアクセスログに出ることを検証する。
func TestLoggingMiddleware_UserIDFromSessionMiddleware(t *testing.T) {
	sessions := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: 123, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	inner := NewSessionMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/admin/podcasts", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "s"})
	entry, _ := serveLogged(t, req, inner)

	if entry["user_id"] != float64(123) {
		t.Errorf("user_id = %v, want 123", entry["user_id"])
	}
}

func TestLoggingMiddleware_UserIDAlreadyInContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/podcasts", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), 7))
	entry, _ := serveLogged(t, req, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if entry["user_id"] != float64(7) {
		t.Errorf("user_id = %v, want 7", entry["user_id"])
	}
}

package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/podcastadmin/internal/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

// pages は管理画面のテンプレート。起動時に一度だけ解析する。
var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// pageData は全ページ共通のテンプレートデータ。
type pageData struct {
	PageTitle string
	Notice    string
	CSRFToken string
}

// render はテンプレートをバッファに描画してから200で書き込む。
// 描画に失敗した場合は途中までの出力を返さず500を返す。
func render(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		slog.ErrorContext(r.Context(), "failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/podcastadmin/internal/model"
)

const (
	// MethodOverrideField はHTMLフォームで実際のHTTPメソッドを指定するフィールド名。
	MethodOverrideField = "_method"

	methodOverrideHeader = "X-HTTP-Method-Override"

	// multipartMemory はマルチパートフォーム解析時にメモリに保持する上限。超過分は一時ファイルに書き出す。
	multipartMemory = 8 << 20
)

// NewMethodOverrideMiddleware はPOSTリクエストの _method フィールドまたは
// X-HTTP-Method-Override ヘッダーでHTTPメソッドを差し替えるミドルウェアを返す。
// ルーティング前に適用する必要がある。PUT、PATCH、DELETE以外の値は無視する。
// フォームの解析はここで行うため、本文がサイズ上限を超えた場合は413を返して処理を打ち切る。
func NewMethodOverrideMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				override := r.Header.Get(methodOverrideHeader)
				if isFormContent(r) {
					if err := parseForm(r); err != nil {
						var maxErr *http.MaxBytesError
						if errors.As(err, &maxErr) {
							WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, &model.APIError{
								Code:     model.ErrCodeInvalidRequest,
								Message:  fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit),
								Category: "validation",
								Action:   "アップロードするファイルのサイズを確認してください。",
							})
							return
						}
					}
					if override == "" {
						override = r.PostFormValue(MethodOverrideField)
					}
				}
				switch m := strings.ToUpper(strings.TrimSpace(override)); m {
				case http.MethodPut, http.MethodPatch, http.MethodDelete:
					r.Method = m
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseForm は本文を解析する。その他の解析エラーはハンドラー側の判断に任せる。
func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

func isFormContent(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}

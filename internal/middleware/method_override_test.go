package middleware

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestMethodOverrideMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		form       url.Values
		header     string
		wantMethod string
	}{
		{"form PUT", http.MethodPost, url.Values{"_method": {"put"}}, "", http.MethodPut},
		{"form DELETE", http.MethodPost, url.Values{"_method": {"DELETE"}}, "", http.MethodDelete},
		{"header PATCH", http.MethodPost, nil, "PATCH", http.MethodPatch},
		{"unsupported value ignored", http.MethodPost, url.Values{"_method": {"GET"}}, "", http.MethodPost},
		{"no override", http.MethodPost, url.Values{"limit": {"5"}}, "", http.MethodPost},
		{"GET is never overridden", http.MethodGet, nil, "DELETE", http.MethodGet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMethod, gotLimit string
			handler := NewMethodOverrideMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotLimit = r.PostFormValue("limit")
			}))

			req := httptest.NewRequest(tt.method, "/admin/podcasts/1", strings.NewReader(tt.form.Encode()))
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			if tt.header != "" {
				req.Header.Set(methodOverrideHeader, tt.header)
			}

			handler.ServeHTTP(httptest.NewRecorder(), req)

			if gotMethod != tt.wantMethod {
				t.Errorf("method = %q, want %q", gotMethod, tt.wantMethod)
			}
			if want := tt.form.Get("limit"); gotLimit != want {
				t.Errorf("form value limit = %q, want %q (form must stay readable)", gotLimit, want)
			}
		})
	}
}

func TestMethodOverrideMiddleware_OversizedMultipart_Returns413(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField(MethodOverrideField, "put")
	mw.WriteField(CSRFFormField, "token")
	part, _ := mw.CreateFormFile("podcast[image]", "big.png")
	part.Write(bytes.Repeat([]byte("x"), 2<<20))
	mw.Close()

	reached := false
	handler := NewMethodOverrideMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/podcasts/1", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(w, req.Body, 1<<20)

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusRequestEntityTooLarge, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "exceeds 1048576 bytes") {
		t.Errorf("body = %q, want size limit message", w.Body.String())
	}
	if reached {
		t.Error("next handler should not be called")
	}
}

func TestMethodOverrideMiddleware_MultipartFormStaysReadable(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField(MethodOverrideField, "put")
	mw.WriteField("podcast[title]", "Show")
	mw.Close()

	var gotMethod, gotTitle string
	handler := NewMethodOverrideMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotTitle = r.PostFormValue("podcast[title]")
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/podcasts/1", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotTitle != "Show" {
		t.Errorf("title = %q, want Show", gotTitle)
	}
}

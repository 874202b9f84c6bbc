package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/podcastadmin/internal/middleware"
	"github.com/hitoshi/podcastadmin/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// レスポンスには短いメッセージのみを含め、詳細はログに記録する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, r, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w, r)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodePodcastNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidFetchLimit, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeSlugTaken:
		return http.StatusConflict
	case model.ErrCodeUploadFailed:
		return http.StatusBadGateway
	case model.ErrCodeQueueUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// newInvalidRequestError はリクエスト形式の不正を表すエラーを生成する。
func newInvalidRequestError(message string) *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, podcast, queue, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodePodcastNotFound   = "PODCAST_NOT_FOUND"
	ErrCodeInvalidFetchLimit = "INVALID_FETCH_LIMIT"
	ErrCodeQueueUnavailable  = "QUEUE_UNAVAILABLE"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeSlugTaken         = "SLUG_TAKEN"
	ErrCodeUploadFailed      = "UPLOAD_FAILED"
	ErrCodeUnknownResource   = "UNKNOWN_RESOURCE"
	ErrCodeUnknownCapability = "UNKNOWN_CAPABILITY"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
)

// NewPodcastNotFoundError はポッドキャスト未検出エラーを生成する。
func NewPodcastNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodePodcastNotFound,
		Message:  fmt.Sprintf("Podcast not found (#%d)", id),
		Category: "podcast",
		Action:   "ポッドキャストIDを確認してください。",
	}
}

// NewInvalidFetchLimitError は取得件数の指定が不正な場合のエラーを生成する。
func NewInvalidFetchLimitError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFetchLimit,
		Message:  fmt.Sprintf("Invalid fetch limit: %q", raw),
		Category: "validation",
		Action:   "limit には0以上の整数を指定するか、空欄にしてください。",
	}
}

// NewQueueUnavailableError はジョブキューへの投入に失敗した場合のエラーを生成する。
// 内部の詳細はログのみに記録し、メッセージには含めない。
func NewQueueUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeQueueUnavailable,
		Message:  "Episode fetching could not be scheduled",
		Category: "queue",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("%s %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewSlugTakenError はslugが他のポッドキャストと重複する場合のエラーを生成する。
func NewSlugTakenError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeSlugTaken,
		Message:  fmt.Sprintf("Slug %q has already been taken", slug),
		Category: "validation",
		Action:   "別のslugを指定してください。",
	}
}

// NewUploadFailedError は画像アセットのアップロード失敗エラーを生成する。
func NewUploadFailedError(kind AssetKind) *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  fmt.Sprintf("Failed to upload %s", kind),
		Category: "podcast",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnknownResourceError は登録されていないリソース種別が指定された場合のエラーを生成する。
func NewUnknownResourceError(t ResourceType) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownResource,
		Message:  fmt.Sprintf("Unknown resource type: %s", t),
		Category: "validation",
		Action:   "リソース種別を確認してください。",
	}
}

// NewUnknownCapabilityError はリソース種別に登録されていない権限名が指定された場合のエラーを生成する。
func NewUnknownCapabilityError(c Capability, t ResourceType) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownCapability,
		Message:  fmt.Sprintf("Capability %s is not defined for %s", c, t),
		Category: "validation",
		Action:   "権限名を確認してください。",
	}
}

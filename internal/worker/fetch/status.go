package fetch

import (
	"errors"
	"fmt"
)

// FetchResult はフィード取得時のHTTPステータスの分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（2xx）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified は未変更（304）。フィードは到達可能とみなす。
	FetchResultNotModified
	// FetchResultGone はフィードが恒久的に取得できない（404/410/401/403）。
	FetchResultGone
	// FetchResultRetry は一時的な障害（429/5xx）。
	FetchResultRetry
	// FetchResultUnknown は上記以外のステータス。
	FetchResultUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultGone
	case statusCode == 401 || statusCode == 403:
		return FetchResultGone
	case statusCode == 429:
		return FetchResultRetry
	case statusCode >= 500:
		return FetchResultRetry
	default:
		return FetchResultUnknown
	}
}

// PermanentError は再試行しても結果が変わらない失敗を表す。
// Consumerはこのエラーを受け取るとメッセージを再投入せずに破棄する。
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent はerrをPermanentErrorで包む。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent はerrがPermanentErrorを含むかを返す。
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

package jobs

import (
	"strconv"
	"strings"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// truthyValues はforceパラメータで真とみなす値（小文字化済み）。
var truthyValues = map[string]bool{
	"1":    true,
	"true": true,
	"t":    true,
	"yes":  true,
	"y":    true,
	"on":   true,
}

// NormalizeLimit はlimitパラメータを正規化する。
// 空文字列（前後の空白を除く）は上限なしとしてnilを返す。
// 整数として解釈できない値と負の値はINVALID_FETCH_LIMITエラーとなる。
func NormalizeLimit(raw string) (*int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, model.NewInvalidFetchLimitError(raw)
	}
	return &n, nil
}

// NormalizeForce はforceパラメータを正規化する。
// 大文字小文字を区別せず "1", "true", "t", "yes", "y", "on" を真とし、それ以外は偽とする。
func NormalizeForce(raw string) bool {
	return truthyValues[strings.ToLower(strings.TrimSpace(raw))]
}

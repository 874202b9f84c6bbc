// Package jobs はエピソード取得ジョブのパラメータ正規化とキュー投入を提供する。
package jobs

import (
	"context"
	"fmt"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// Ticket はキュー投入に成功したジョブの受付票。
type Ticket struct {
	ID    string
	Queue string
}

// QueueError はキューへの投入失敗を表す。
type QueueError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *QueueError) Unwrap() error {
	return e.Err
}

// JobQueue は永続キューへのジョブ投入インターフェース。
// 失敗時は*QueueErrorを返す。
type JobQueue interface {
	Enqueue(ctx context.Context, job model.FetchEpisodesJob) (Ticket, error)
}

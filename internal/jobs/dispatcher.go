package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// PodcastFinder はジョブ投入前のポッドキャスト存在確認に使用するインターフェース。
type PodcastFinder interface {
	FindByID(ctx context.Context, id int64) (*model.Podcast, error)
}

// Recorder はジョブ投入のメトリクス記録インターフェース。
type Recorder interface {
	RecordFetchScheduled()
	RecordFetchScheduleFailure(reason string)
	RecordFetchDeduplicated()
}

// FetchRequest はエピソード取得ジョブの投入リクエスト。
// RawLimit と RawForce はフォームから受け取った未加工の文字列。
// RequestKey が空でない場合、同じキーでの2回目以降の投入は行わない。
type FetchRequest struct {
	PodcastID  int64
	RawLimit   string
	RawForce   string
	RequestKey string
}

// Dispatcher はエピソード取得ジョブをキューに投入する。
// ジョブの完了は待たず、キューへの受け渡しのみを保証する。
type Dispatcher struct {
	podcasts PodcastFinder
	queue    JobQueue
	guard    RequestGuard
	recorder Recorder
}

// NewDispatcher はDispatcherを生成する。
// guardとrecorderはnilでもよい。
func NewDispatcher(podcasts PodcastFinder, queue JobQueue, guard RequestGuard, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		podcasts: podcasts,
		queue:    queue,
		guard:    guard,
		recorder: recorder,
	}
}

// ConfirmationMessage はジョブ投入完了時の通知文を返す。
func ConfirmationMessage(p *model.Podcast) string {
	return fmt.Sprintf("Podcast's episodes fetching was scheduled (%s, #%d)", p.Title, p.ID)
}

// ScheduleFetch はパラメータを正規化してジョブを1件投入し、通知文を返す。
// ポッドキャストが存在しない場合はPODCAST_NOT_FOUND、キュー投入に失敗した場合は
// QUEUE_UNAVAILABLEを返す。
func (d *Dispatcher) ScheduleFetch(ctx context.Context, req FetchRequest) (string, error) {
	limit, err := NormalizeLimit(req.RawLimit)
	if err != nil {
		return "", err
	}
	force := NormalizeForce(req.RawForce)

	podcast, err := d.podcasts.FindByID(ctx, req.PodcastID)
	if err != nil {
		return "", fmt.Errorf("ポッドキャストの取得に失敗しました: %w", err)
	}
	if podcast == nil {
		return "", model.NewPodcastNotFoundError(req.PodcastID)
	}

	claimed := false
	if d.guard != nil && req.RequestKey != "" {
		ok, err := d.guard.Claim(ctx, req.RequestKey)
		switch {
		case err != nil:
			// ガードの障害時は投入を優先する
			slog.WarnContext(ctx, "request guard unavailable",
				slog.Int64("podcast_id", podcast.ID),
				slog.String("error", err.Error()),
			)
		case !ok:
			if d.recorder != nil {
				d.recorder.RecordFetchDeduplicated()
			}
			slog.InfoContext(ctx, "duplicate fetch request skipped",
				slog.Int64("podcast_id", podcast.ID),
			)
			return ConfirmationMessage(podcast), nil
		default:
			claimed = true
		}
	}

	job := model.FetchEpisodesJob{
		PodcastID: podcast.ID,
		Limit:     limit,
		Force:     force,
	}

	ticket, err := d.queue.Enqueue(ctx, job)
	if err != nil {
		if claimed {
			if rerr := d.guard.Release(ctx, req.RequestKey); rerr != nil {
				slog.WarnContext(ctx, "failed to release request token",
					slog.Int64("podcast_id", podcast.ID),
					slog.String("error", rerr.Error()),
				)
			}
		}
		if d.recorder != nil {
			d.recorder.RecordFetchScheduleFailure("queue")
		}
		slog.ErrorContext(ctx, "failed to enqueue fetch job",
			slog.Int64("podcast_id", podcast.ID),
			slog.String("error", err.Error()),
		)
		return "", model.NewQueueUnavailableError()
	}

	if d.recorder != nil {
		d.recorder.RecordFetchScheduled()
	}
	slog.InfoContext(ctx, "fetch job scheduled",
		slog.Int64("podcast_id", podcast.ID),
		slog.String("ticket_id", ticket.ID),
		slog.String("queue", ticket.Queue),
		slog.Bool("force", force),
		slog.Any("limit", limit),
	)

	return ConfirmationMessage(podcast), nil
}

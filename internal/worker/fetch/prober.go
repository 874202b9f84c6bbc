package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// PodcastStore はFeedProberが使用するポッドキャストの参照・更新インターフェース。
type PodcastStore interface {
	FindByID(ctx context.Context, id int64) (*model.Podcast, error)
	UpdateReachable(ctx context.Context, id int64, reachable bool) error
}

// SSRFValidator はフィードURLの検証と安全なHTTPクライアントの提供を行う。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	Client() *http.Client
}

// StatusRecorder はフィード取得時のHTTPステータスを記録する。
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// ErrPodcastNotFound はジョブのポッドキャストが存在しないことを表す。
var ErrPodcastNotFound = errors.New("podcast not found")

// ProbeResult はフィード取得の結果。
type ProbeResult struct {
	PodcastID  int64
	Skipped    bool
	Reachable  bool
	StatusCode int
	Episodes   int
	FeedTitle  string
}

// FeedProber はポッドキャストのフィードを取得してパースし、到達可否を記録する。
// エピソードの保存は行わず、検出したエピソード数をlimitで丸めて報告する。
type FeedProber struct {
	podcasts    PodcastStore
	guard       SSRFValidator
	recorder    StatusRecorder
	logger      *slog.Logger
	maxBodySize int64
}

// NewFeedProber はFeedProberを生成する。recorderはnilでもよい。
func NewFeedProber(podcasts PodcastStore, guard SSRFValidator, recorder StatusRecorder, logger *slog.Logger, maxBodySize int64) *FeedProber {
	if maxBodySize <= 0 {
		maxBodySize = 5 * 1024 * 1024
	}
	return &FeedProber{
		podcasts:    podcasts,
		guard:       guard,
		recorder:    recorder,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// FetchEpisodes はEpisodeFetcherを実装する。
func (p *FeedProber) FetchEpisodes(ctx context.Context, job model.FetchEpisodesJob) error {
	_, err := p.Probe(ctx, job)
	return err
}

// Probe はジョブ1件分のフィード取得を行う。
// 非公開のポッドキャストはforceが指定されない限りスキップする。
// 恒久的な失敗はPermanentErrorで返し、到達不可として記録する。
func (p *FeedProber) Probe(ctx context.Context, job model.FetchEpisodesJob) (*ProbeResult, error) {
	start := time.Now()
	result := &ProbeResult{PodcastID: job.PodcastID}

	podcast, err := p.podcasts.FindByID(ctx, job.PodcastID)
	if err != nil {
		return nil, fmt.Errorf("failed to load podcast: %w", err)
	}
	if podcast == nil {
		return nil, Permanent(fmt.Errorf("%w: %d", ErrPodcastNotFound, job.PodcastID))
	}

	if !podcast.Published && !job.Force {
		p.logger.Info("unpublished podcast skipped",
			slog.Int64("podcast_id", podcast.ID),
		)
		result.Skipped = true
		return result, nil
	}

	if err := p.guard.ValidateURL(podcast.FeedURL); err != nil {
		p.logger.Warn("feed url rejected",
			slog.Int64("podcast_id", podcast.ID),
			slog.String("feed_url", podcast.FeedURL),
			slog.String("error", err.Error()),
		)
		p.markReachable(ctx, podcast, false)
		return result, Permanent(fmt.Errorf("feed url rejected: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, podcast.FeedURL, nil)
	if err != nil {
		p.markReachable(ctx, podcast, false)
		return result, Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("User-Agent", "podcastadmin/1.0 (+episode fetcher)")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := p.guard.Client().Do(req)
	if err != nil {
		p.logger.Error("feed request failed",
			slog.Int64("podcast_id", podcast.ID),
			slog.String("feed_url", podcast.FeedURL),
			slog.String("error", err.Error()),
		)
		p.markReachable(ctx, podcast, false)
		return result, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if p.recorder != nil {
		p.recorder.RecordHTTPStatus(resp.StatusCode)
	}

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultNotModified:
		result.Reachable = true
		p.markReachable(ctx, podcast, true)
		return result, nil
	case FetchResultRetry:
		p.logger.Warn("feed temporarily unavailable",
			slog.Int64("podcast_id", podcast.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		return result, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	default:
		p.logger.Warn("feed unreachable",
			slog.Int64("podcast_id", podcast.ID),
			slog.String("feed_url", podcast.FeedURL),
			slog.Int("http_status", resp.StatusCode),
		)
		p.markReachable(ctx, podcast, false)
		return result, Permanent(fmt.Errorf("feed returned HTTP %d", resp.StatusCode))
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, p.maxBodySize))
	if err != nil {
		p.logger.Warn("feed parse failed",
			slog.Int64("podcast_id", podcast.ID),
			slog.String("feed_url", podcast.FeedURL),
			slog.String("error", err.Error()),
		)
		p.markReachable(ctx, podcast, false)
		return result, Permanent(fmt.Errorf("failed to parse feed: %w", err))
	}

	result.Reachable = true
	result.FeedTitle = feed.Title
	result.Episodes = countEpisodes(feed.Items, job.Limit)
	p.markReachable(ctx, podcast, true)

	p.logger.Info("feed probed",
		slog.Int64("podcast_id", podcast.ID),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("episodes", result.Episodes),
		slog.Int("items_total", len(feed.Items)),
		slog.Bool("force", job.Force),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

// markReachable は到達可否フラグを更新する。値が変わらない場合は書き込まない。
func (p *FeedProber) markReachable(ctx context.Context, podcast *model.Podcast, reachable bool) {
	if podcast.Reachable == reachable {
		return
	}
	if err := p.podcasts.UpdateReachable(ctx, podcast.ID, reachable); err != nil {
		p.logger.Error("failed to update reachable flag",
			slog.Int64("podcast_id", podcast.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	podcast.Reachable = reachable
}

// countEpisodes は音声エンクロージャを持つ項目を数え、limitで丸める。
func countEpisodes(items []*gofeed.Item, limit *int) int {
	n := 0
	for _, item := range items {
		if item == nil || !hasAudio(item) {
			continue
		}
		n++
	}
	if limit != nil && *limit < n {
		return *limit
	}
	return n
}

func hasAudio(item *gofeed.Item) bool {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return true
		}
	}
	return false
}

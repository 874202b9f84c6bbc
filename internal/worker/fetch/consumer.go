// Package fetch はエピソード取得ジョブを処理するワーカーを提供する。
// キューからの受信、ペイロードの解釈、フィード取得、再試行の判断を含む。
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// EpisodeFetcher はジョブ1件分のエピソード取得を行う。
type EpisodeFetcher interface {
	FetchEpisodes(ctx context.Context, job model.FetchEpisodesJob) error
}

// JobRecorder はジョブ処理結果のメトリクス記録インターフェース。
type JobRecorder interface {
	RecordJobResult(result string)
	RecordJobLatency(duration time.Duration)
}

// ジョブ処理結果。メトリクスのラベルとしても使用する。
const (
	ResultProcessed = "processed"
	ResultRequeued  = "requeued"
	ResultDropped   = "dropped"
)

// ErrMalformedJob はメッセージがジョブとして解釈できないことを表す。
var ErrMalformedJob = errors.New("malformed job")

// Consumer はキューから受け取ったジョブを並列数を制限して処理する。
// 失敗したジョブは初回配信時のみ再投入し、再配信でも失敗した場合は破棄する。
type Consumer struct {
	fetcher        EpisodeFetcher
	recorder       JobRecorder
	logger         *slog.Logger
	maxConcurrency int
}

// NewConsumer はConsumerを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。recorderはnilでもよい。
func NewConsumer(fetcher EpisodeFetcher, recorder JobRecorder, logger *slog.Logger, maxConcurrency int) *Consumer {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Consumer{
		fetcher:        fetcher,
		recorder:       recorder,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Run はdeliveriesがクローズされるかctxがキャンセルされるまでジョブを処理する。
// 処理中のジョブの完了を待ってから戻る。
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	c.logger.Info("fetch worker started",
		slog.Int("max_concurrency", c.maxConcurrency),
	)

	sem := make(chan struct{}, c.maxConcurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("fetch worker stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return fmt.Errorf("delivery channel closed")
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// 受信済みのメッセージは他のワーカーへ戻す
				_ = d.Nack(false, true)
				return nil
			}

			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				c.Handle(ctx, d)
			}(d)
		}
	}
}

// Handle はメッセージ1件を処理してAck/Nackし、処理結果を返す。
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) string {
	start := time.Now()
	result := c.handle(ctx, d)
	if c.recorder != nil {
		c.recorder.RecordJobResult(result)
		c.recorder.RecordJobLatency(time.Since(start))
	}
	return result
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) string {
	job, err := DecodeJob(d)
	if err != nil {
		c.logger.Warn("malformed job dropped",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
		c.settle(d, false, false)
		return ResultDropped
	}

	if err := c.fetcher.FetchEpisodes(ctx, job); err != nil {
		attrs := []any{
			slog.String("message_id", d.MessageId),
			slog.Int64("podcast_id", job.PodcastID),
			slog.Bool("redelivered", d.Redelivered),
			slog.String("error", err.Error()),
		}
		if !IsPermanent(err) && !d.Redelivered {
			c.logger.Warn("fetch job failed, requeueing", attrs...)
			c.settle(d, false, true)
			return ResultRequeued
		}
		c.logger.Error("fetch job dropped", attrs...)
		c.settle(d, false, false)
		return ResultDropped
	}

	c.settle(d, true, false)
	return ResultProcessed
}

// settle はメッセージをAckまたはNackする。失敗はログのみ。
func (c *Consumer) settle(d amqp.Delivery, ack, requeue bool) {
	var err error
	if ack {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, requeue)
	}
	if err != nil {
		c.logger.Error("failed to settle delivery",
			slog.String("message_id", d.MessageId),
			slog.Bool("ack", ack),
			slog.String("error", err.Error()),
		)
	}
}

// DecodeJob はメッセージ本文をFetchEpisodesJobとして解釈する。
// 種別が異なるメッセージ、未知のフィールド、0以下のpodcast_id、負のlimitは不正とする。
func DecodeJob(d amqp.Delivery) (model.FetchEpisodesJob, error) {
	var job model.FetchEpisodesJob

	if d.Type != "" && d.Type != model.FetchEpisodesJobType {
		return job, fmt.Errorf("%w: unexpected type %q", ErrMalformedJob, d.Type)
	}

	dec := json.NewDecoder(bytes.NewReader(d.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.PodcastID <= 0 {
		return job, fmt.Errorf("%w: podcast_id must be positive", ErrMalformedJob)
	}
	if job.Limit != nil && *job.Limit < 0 {
		return job, fmt.Errorf("%w: limit must not be negative", ErrMalformedJob)
	}
	return job, nil
}

// Package queue はRabbitMQを使用した永続ジョブキューを提供する。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/podcastadmin/internal/jobs"
	"github.com/hitoshi/podcastadmin/internal/model"
)

// ErrNacked はブローカーがメッセージの受領を拒否したことを表す。
var ErrNacked = errors.New("broker nacked the message")

// publishChannel はRabbitQueueが使用するAMQPチャネルの操作。
type publishChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	IsClosed() bool
	Close() error
}

// channelOpener はconfirmモードの投入用チャネルを開く。
type channelOpener func() (publishChannel, error)

// RabbitQueue はRabbitMQの永続キューにジョブを投入するJobQueue実装。
// チャネルはconfirmモードで開き、ブローカーの受領確認を待ってから戻る。
// 接続やチャネルが閉じられた場合は次のEnqueueで開き直す。
type RabbitQueue struct {
	mu    sync.Mutex
	ch    publishChannel
	open  channelOpener
	conn  *connector
	queue string
	now   func() time.Time
}

// Dial はRabbitMQへ接続する。
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return conn, nil
}

// connector は接続を保持し、切断されていれば再接続する。
type connector struct {
	url   string
	queue string
	conn  *amqp.Connection
}

func (c *connector) openChannel() (publishChannel, error) {
	if c.conn == nil || c.conn.IsClosed() {
		conn, err := Dial(c.url)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if _, err := declareQueue(ch, c.queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (c *connector) close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// NewRabbitQueue はRabbitMQへ接続してconfirmモードのチャネルを開き、永続キューを宣言する。
func NewRabbitQueue(url, queue string) (*RabbitQueue, error) {
	c := &connector{url: url, queue: queue}
	ch, err := c.openChannel()
	if err != nil {
		_ = c.close()
		return nil, err
	}
	q := newRabbitQueue(ch, queue)
	q.open = c.openChannel
	q.conn = c
	return q, nil
}

func newRabbitQueue(ch publishChannel, queue string) *RabbitQueue {
	return &RabbitQueue{ch: ch, queue: queue, now: time.Now}
}

// channel は利用可能なチャネルを返す。閉じていれば開き直す。q.muを保持して呼ぶこと。
func (q *RabbitQueue) channel() (publishChannel, error) {
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	if q.open == nil {
		return nil, amqp.ErrClosed
	}
	ch, err := q.open()
	if err != nil {
		return nil, err
	}
	slog.Info("rabbitmq channel reopened", slog.String("queue", q.queue))
	q.ch = ch
	return ch, nil
}

func declareQueue(ch *amqp.Channel, queue string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return q, nil
}

// NewPublishing はジョブをワイヤ形式のAMQPメッセージに変換する。
func NewPublishing(job model.FetchEpisodesJob, messageID string, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode job: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Type:         model.FetchEpisodesJobType,
		Timestamp:    now.UTC(),
		Body:         body,
	}, nil
}

// Enqueue はジョブを1件投入し、ブローカーの受領確認を待つ。
func (q *RabbitQueue) Enqueue(ctx context.Context, job model.FetchEpisodesJob) (jobs.Ticket, error) {
	id := uuid.NewString()
	msg, err := NewPublishing(job, id, q.now())
	if err != nil {
		return jobs.Ticket{}, &jobs.QueueError{Op: "encode", Err: err}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	confirm, err := q.publish(ctx, msg)
	// 切断を検知した直後は1回だけ開き直して再送する
	if errors.Is(err, amqp.ErrClosed) && q.open != nil {
		confirm, err = q.publish(ctx, msg)
	}
	if err != nil {
		return jobs.Ticket{}, &jobs.QueueError{Op: "publish", Err: err}
	}

	// confirmモードでないチャネルではnilが返る
	if confirm != nil {
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return jobs.Ticket{}, &jobs.QueueError{Op: "confirm", Err: err}
		}
		if !acked {
			return jobs.Ticket{}, &jobs.QueueError{Op: "confirm", Err: ErrNacked}
		}
	}

	return jobs.Ticket{ID: id, Queue: q.queue}, nil
}

func (q *RabbitQueue) publish(ctx context.Context, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	ch, err := q.channel()
	if err != nil {
		return nil, err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",      // default exchange
		q.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		msg,
	)
	if errors.Is(err, amqp.ErrClosed) {
		_ = ch.Close()
		q.ch = nil
	}
	return confirm, err
}

// Close はチャネルと接続を閉じる。
func (q *RabbitQueue) Close() error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var err error
	if q.ch != nil && !q.ch.IsClosed() {
		err = q.ch.Close()
	}
	if q.conn != nil {
		err = errors.Join(err, q.conn.close())
	}
	return err
}

// Subscription はキューからのメッセージ受信を表す。
type Subscription struct {
	ch         *amqp.Channel
	Deliveries <-chan amqp.Delivery
}

// Subscribe はprefetch件数を設定してキューの購読を開始する。
// メッセージは手動でAck/Nackする必要がある。
func Subscribe(conn *amqp.Connection, queue string, prefetch int) (*Subscription, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	if _, err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to consume queue %s: %w", queue, err)
	}
	return &Subscription{ch: ch, Deliveries: msgs}, nil
}

// Close は購読チャネルを閉じる。Deliveriesはクローズされる。
func (s *Subscription) Close() error {
	if s == nil || s.ch == nil {
		return nil
	}
	return s.ch.Close()
}

// compile-time interface check
var _ jobs.JobQueue = (*RabbitQueue)(nil)

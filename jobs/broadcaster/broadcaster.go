// Package broadcaster drains the lifecycle journal to a message broker.
package broadcaster

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"

	"warden/infra/journal"
	"warden/infra/logging"
)

const (
	DefaultInterval   = 250 * time.Millisecond
	DefaultMaxRetries = 5
)

// Publisher delivers one keyed message. Both the sarama publisher below
// and kafka.Producer implement it.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// Source is the outbox being drained. *journal.Journal implements it.
type Source interface {
	ScanPending(maxRetries uint32, sentBefore time.Time, fn func(seq uint64, rec journal.Record) error) error
	MarkSent(seq uint64) error
	MarkAcked(seq uint64) error
	MarkFailed(seq uint64) error
	TruncateAcked() (int, error)
}

// NewSaramaProducer dials brokers with acks from all replicas.
func NewSaramaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, cfg)
	return p, errors.Wrap(err, "sarama producer")
}

// SaramaPublisher adapts a sarama.SyncProducer to Publisher.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaPublisher(producer sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, topic: topic}
}

func (p *SaramaPublisher) Publish(_ context.Context, key, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (p *SaramaPublisher) Close() error { return p.producer.Close() }

// Result summarizes one drain pass.
type Result struct {
	Acked     int
	Failed    int
	Truncated int
}

type Option func(*Broadcaster)

func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

func WithMaxRetries(n uint32) Option {
	return func(b *Broadcaster) { b.maxRetries = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.log = logging.Component(l, "broadcaster") }
}

func withClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

type Broadcaster struct {
	src        Source
	pub        Publisher
	interval   time.Duration
	maxRetries uint32
	log        *slog.Logger
	now        func() time.Time
}

func New(src Source, pub Publisher, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		src:        src,
		pub:        pub,
		interval:   DefaultInterval,
		maxRetries: DefaultMaxRetries,
		log:        logging.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run drains on every tick until ctx is done. Drain errors are logged
// and retried on the next tick.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("started", "interval", b.interval.String())
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return nil
		case <-ticker.C:
			res, err := b.DrainOnce(ctx)
			if err != nil {
				b.log.Error("drain failed", "err", err)
				continue
			}
			if res.Acked+res.Failed > 0 {
				b.log.Debug("drained", "acked", res.Acked, "failed", res.Failed, "truncated", res.Truncated)
			}
		}
	}
}

// DrainOnce publishes every pending record in sequence order. A record
// is marked SENT before publishing and ACKED or FAILED after. A record
// left SENT for longer than one interval is published again.
func (b *Broadcaster) DrainOnce(ctx context.Context) (Result, error) {
	var res Result
	stale := b.now().Add(-b.interval)
	err := b.src.ScanPending(b.maxRetries, stale, func(seq uint64, rec journal.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.src.MarkSent(seq); err != nil {
			return err
		}
		if err := b.pub.Publish(ctx, strconv.AppendUint(nil, seq, 10), rec.Payload); err != nil {
			b.log.Warn("publish failed", "seq", seq, "retries", rec.Retries, "err", err)
			res.Failed++
			return b.src.MarkFailed(seq)
		}
		res.Acked++
		return b.src.MarkAcked(seq)
	})
	if err != nil {
		return res, errors.Wrap(err, "drain")
	}
	n, err := b.src.TruncateAcked()
	res.Truncated = n
	return res, errors.Wrap(err, "truncate")
}

func (b *Broadcaster) Close() error { return b.pub.Close() }

package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSConfig struct {
	URL           string
	Name          string
	Stream        string
	Subject       string
	Durable       string
	MaxReconnects int
	Workers       int
	Timeout       time.Duration
}

// ConnectJetStream dials NATS and makes sure the job stream exists.
func ConnectJetStream(cfg NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("JetStream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, nil, fmt.Errorf("JetStream AddStream: %w", err)
	}
	return nc, js, nil
}

// JetStreamQueue publishes jobs to a stream and consumes them with a durable pull consumer,
// so extraction can run in a separate process from the API.
type JetStreamQueue struct {
	js     nats.JetStreamContext
	cfg    NATSConfig
	logger *slog.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewJetStreamQueue(js nats.JetStreamContext, cfg NATSConfig, logger *slog.Logger) *JetStreamQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &JetStreamQueue{js: js, cfg: cfg, logger: logger}
}

func (q *JetStreamQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.JobID, err)
	}

	ack, err := q.js.PublishMsg(&nats.Msg{Subject: q.cfg.Subject, Data: data}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("enqueue job %s: publish failed: %w", job.JobID, err)
	}
	q.logger.Debug("job enqueued", "job_id", job.JobID, "stream", ack.Stream, "seq", ack.Sequence)
	return nil
}

// Consume starts pull workers that hand each job to proc. It returns once the workers are running.
func (q *JetStreamQueue) Consume(ctx context.Context, proc Processor) error {
	_, err := q.js.AddConsumer(q.cfg.Stream, &nats.ConsumerConfig{
		Durable:       q.cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		FilterSubject: q.cfg.Subject,
		AckWait:       q.cfg.Timeout + 30*time.Second,
		MaxAckPending: q.cfg.Workers * 2,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return fmt.Errorf("JetStream AddConsumer: %w", err)
	}

	sub, err := q.js.PullSubscribe(q.cfg.Subject, q.cfg.Durable, nats.Bind(q.cfg.Stream, q.cfg.Durable))
	if err != nil {
		return fmt.Errorf("JetStream PullSubscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.sub = sub
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			q.runWorker(ctx, workerID, sub, proc)
		}(i + 1)
	}
	q.logger.Info("jetstream consumer running", "workers", q.cfg.Workers, "subject", q.cfg.Subject)
	return nil
}

func (q *JetStreamQueue) runWorker(ctx context.Context, workerID int, sub *nats.Subscription, proc Processor) {
	for {
		if ctx.Err() != nil {
			return
		}
		fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			q.logger.Warn("nats fetch failed", "worker_id", workerID, "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, msg := range msgs {
			q.handle(workerID, msg, proc)
		}
	}
}

// handle acks every decodable message: the processor records failures on the job itself,
// so redelivery would only repeat a terminal write.
func (q *JetStreamQueue) handle(workerID int, msg *nats.Msg, proc Processor) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		q.logger.Error("dropping malformed job message", "worker_id", workerID, "error", err)
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	defer cancel()
	start := time.Now()
	if err := proc.Process(ctx, job.JobID); err != nil {
		q.logger.Error("processing failed", "worker_id", workerID, "job_id", job.JobID,
			"elapsed_ms", time.Since(start).Milliseconds(), "error", err)
	}
	if err := msg.Ack(); err != nil {
		q.logger.Warn("nats ack failed", "job_id", job.JobID, "error", err)
	}
}

// Shutdown stops fetching, waits for in-flight jobs and drains the subscription.
func (q *JetStreamQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel, sub := q.cancel, q.sub
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
		return ctx.Err()
	case <-done:
	}
	if sub != nil {
		if err := sub.Drain(); err != nil {
			q.logger.Warn("nats subscription drain", "error", err)
		}
	}
	q.logger.Info("jetstream consumer stopped")
	return nil
}

package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TopicLedgerEvents carries a model.LedgerEvent for every committed instruction.
const TopicLedgerEvents = "ledger_events"

var (
	ErrNoSubscribers = errors.New("no subscribers")
	ErrClosed        = errors.New("queue closed")
)

type Handler func(payload any) error

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler Handler) (int, error)
	Unsubscribe(topic string, id int)
}

// InMemoryQueue delivers each payload to every subscriber of a topic on its
// own goroutine, retrying failed handlers with linear backoff.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup

	MaxRetries int
	Backoff    time.Duration
	logger     *slog.Logger
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *slog.Logger) *InMemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryQueue{
		handlers:   make(map[string]map[int]Handler),
		done:       make(chan struct{}),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		logger:     logger.With("component", "queue"),
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("%w for topic %s", ErrNoSubscribers, topic)
	}

	for _, handler := range handlers {
		job := JobPayload{
			Topic:      topic,
			Payload:    payload,
			MaxRetries: q.MaxRetries,
		}
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler Handler, job JobPayload) {
	defer q.wg.Done()

	for {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.logger.Error("job permanently failed",
				"topic", job.Topic,
				"attempts", job.RetryCount,
				"error", err,
			)
			return
		}
		q.logger.Warn("job failed, retrying",
			"topic", job.Topic,
			"attempt", job.RetryCount,
			"max_retries", job.MaxRetries,
			"error", err,
		)

		select {
		case <-time.After(time.Duration(job.RetryCount) * q.Backoff):
		case <-q.done:
			return
		}
	}
}

// Subscribe adds a handler for a topic and returns its id for Unsubscribe.
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}
	if q.handlers[topic] == nil {
		q.handlers[topic] = make(map[int]Handler)
	}
	q.nextID++
	q.handlers[topic][q.nextID] = handler
	return q.nextID, nil
}

func (q *InMemoryQueue) Unsubscribe(topic string, id int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.handlers[topic], id)
}

// Close rejects further publishes, cancels pending retries and waits for
// running handlers to return.
func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/queue"
)

// SendFunc delivers one notification body to url.
type SendFunc func(ctx context.Context, url string, body []byte) error

// Notification is the webhook payload.
type Notification struct {
	Text  string            `json:"text"`
	Event model.LedgerEvent `json:"event"`
}

// Worker processes ledger events into webhook notifications
type Worker struct {
	URLs     []string
	Events   <-chan model.LedgerEvent
	SendFunc SendFunc
	Logger   *slog.Logger
}

// Constructor
func NewWorker(urls []string, events <-chan model.LedgerEvent, send SendFunc, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		URLs:     urls,
		Events:   events,
		SendFunc: send,
		Logger:   logger.With("component", "notification_worker"),
	}
}

// Process delivers ev to every webhook and returns the joined failures so the
// caller can requeue.
func (w *Worker) Process(ctx context.Context, ev model.LedgerEvent) error {
	body, err := json.Marshal(Notification{Text: RenderEvent(ev), Event: ev})
	if err != nil {
		return err
	}
	var errs []error
	for _, url := range w.URLs {
		if err := w.SendFunc(ctx, url, body); err != nil {
			w.Logger.Warn("webhook delivery failed", "url", url, "seq", ev.Seq, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		w.Logger.Debug("webhook delivered", "url", url, "seq", ev.Seq)
	}
	return errors.Join(errs...)
}

// Start processes events until the channel closes or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if err := w.Process(ctx, ev); err != nil {
				w.Logger.Error("failed to notify", "seq", ev.Seq, "error", err)
			}
		}
	}
}

// Forward returns a queue handler that hands ledger events to a worker's
// channel. It gives up on an event once ctx is done.
func Forward(ctx context.Context, events chan<- model.LedgerEvent) queue.Handler {
	return func(payload any) error {
		ev, ok := payload.(model.LedgerEvent)
		if !ok {
			return nil
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
		return nil
	}
}

// HTTPSender posts JSON bodies to webhooks.
func HTTPSender(client *http.Client) SendFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, url string, body []byte) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned %s", resp.Status)
		}
		return nil
	}
}

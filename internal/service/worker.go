package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"webhook-relay/internal/model"

	"github.com/lestrrat-go/backoff"
	"github.com/sirupsen/logrus"
)

const maxDeliveryAttempts = 5

// Retry pacing for a single event's delivery attempts.
var deliveryPolicy = backoff.NewExponential(
	backoff.WithInterval(500*time.Millisecond),
	backoff.WithJitterFactor(0.05),
	backoff.WithMaxRetries(maxDeliveryAttempts-1),
)

// DeliveryStore is what the worker needs from the storage layer.
type DeliveryStore interface {
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	GetEndpointByID(ctx context.Context, id int64) (*model.Endpoint, error)
	MarkAttempt(ctx context.Context, id int64, status model.EventStatus) error
	EnqueueDelivery(ctx context.Context, task model.DeliveryTask) error
	BLPopDelivery(ctx context.Context, timeout time.Duration) (string, error)
}

type DeliveryWorker struct {
	storage DeliveryStore
	logger  *logrus.Logger
	client  *http.Client
	policy  backoff.Policy
}

func NewDeliveryWorker(storage DeliveryStore, logger *logrus.Logger) *DeliveryWorker {
	return &DeliveryWorker{
		storage: storage,
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Second},
		policy:  deliveryPolicy,
	}
}

func (w *DeliveryWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			raw, err := w.storage.BLPopDelivery(ctx, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.WithError(err).Error("BLPop error")
				continue
			}
			if raw == "" {
				continue
			}

			var task model.DeliveryTask
			if err := json.Unmarshal([]byte(raw), &task); err != nil {
				w.logger.WithError(err).Error("unmarshal delivery task error")
				continue
			}

			w.deliver(ctx, task.EventID)
		}
	}
}

// deliver runs up to maxDeliveryAttempts tries for one event and records
// the outcome of each attempt. If the backoff loop gives up while the event
// is still pending (context cancelled, retries exhausted below the attempt
// cap) the task goes back on the queue so the event is not stranded.
func (w *DeliveryWorker) deliver(ctx context.Context, eventID int64) {
	ev, err := w.storage.GetEventByID(ctx, eventID)
	if err != nil {
		w.logger.WithError(err).WithField("event_id", eventID).Error("failed to load event")
		return
	}
	if ev == nil || ev.Status != model.StatusPending {
		return
	}

	ep, err := w.storage.GetEndpointByID(ctx, ev.EndpointID)
	if err != nil {
		w.logger.WithError(err).WithField("event_id", eventID).Error("failed to load endpoint")
		return
	}
	if ep == nil || !ep.Active {
		w.logger.WithField("event_id", eventID).Warn("endpoint missing or inactive, marking failed")
		if err := w.storage.MarkAttempt(ctx, ev.ID, model.StatusFailed); err != nil {
			w.logger.WithError(err).Error("failed to mark event")
		}
		return
	}

	attempts := ev.Attempts
	b, cancel := w.policy.Start(ctx)
	defer cancel()

	for backoff.Continue(b) {
		attempts++
		err := w.attempt(ctx, ev, ep)

		status := model.StatusPending
		switch {
		case err == nil:
			status = model.StatusDelivered
		case attempts >= maxDeliveryAttempts:
			status = model.StatusFailed
		}

		if err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"event_id": ev.ID,
				"attempt":  attempts,
			}).Warn("delivery attempt failed")
		}

		if markErr := w.storage.MarkAttempt(ctx, ev.ID, status); markErr != nil {
			w.logger.WithError(markErr).WithField("event_id", ev.ID).Error("failed to record attempt")
		}

		if status != model.StatusPending {
			return
		}
	}

	// Still pending. Re-enqueue on a fresh context so a shutdown signal
	// does not strand the event.
	task := model.DeliveryTask{EventID: ev.ID}
	if err := w.storage.EnqueueDelivery(context.Background(), task); err != nil {
		w.logger.WithError(err).WithField("event_id", ev.ID).Error("failed to re-enqueue delivery")
	}
}

func (w *DeliveryWorker) attempt(ctx context.Context, ev *model.Event, ep *model.Endpoint) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(ev.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", ep.Secret)
	req.Header.Set("X-Webhook-Event", ev.EventType)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned HTTP %s", resp.Status)
	}
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"webhook-relay/internal/model"

	"github.com/lestrrat-go/backoff"
)

type fakeDeliveryStore struct {
	event    *model.Event
	endpoint *model.Endpoint
	marks    []model.EventStatus
	requeued []model.DeliveryTask
}

func (f *fakeDeliveryStore) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	return f.event, nil
}

func (f *fakeDeliveryStore) GetEndpointByID(ctx context.Context, id int64) (*model.Endpoint, error) {
	return f.endpoint, nil
}

func (f *fakeDeliveryStore) MarkAttempt(ctx context.Context, id int64, status model.EventStatus) error {
	f.marks = append(f.marks, status)
	return nil
}

func (f *fakeDeliveryStore) EnqueueDelivery(ctx context.Context, task model.DeliveryTask) error {
	f.requeued = append(f.requeued, task)
	return nil
}

func (f *fakeDeliveryStore) BLPopDelivery(ctx context.Context, timeout time.Duration) (string, error) {
	return "", nil
}

func fastPolicy(maxRetries int) backoff.Policy {
	return backoff.NewExponential(
		backoff.WithInterval(time.Millisecond),
		backoff.WithMaxRetries(maxRetries),
	)
}

func newTestWorker(store *fakeDeliveryStore, client *http.Client, policy backoff.Policy) *DeliveryWorker {
	return &DeliveryWorker{
		storage: store,
		logger:  quietLogger(),
		client:  client,
		policy:  policy,
	}
}

func pendingEvent() *model.Event {
	return &model.Event{
		ID:         1,
		EndpointID: 1,
		EventType:  "push",
		Payload:    json.RawMessage(`{"ref":"main"}`),
		Status:     model.StatusPending,
	}
}

func TestDeliverMarksDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeDeliveryStore{
		event:    pendingEvent(),
		endpoint: &model.Endpoint{ID: 1, URL: srv.URL, Secret: "s3cret", Active: true},
	}
	w := newTestWorker(store, srv.Client(), fastPolicy(maxDeliveryAttempts-1))

	w.deliver(context.Background(), 1)

	if len(store.marks) != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d: %v", len(store.marks), store.marks)
	}
	if store.marks[0] != model.StatusDelivered {
		t.Errorf("expected delivered, got %q", store.marks[0])
	}
	if len(store.requeued) != 0 {
		t.Errorf("delivered event must not be re-enqueued, got %v", store.requeued)
	}
}

func TestDeliverFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &fakeDeliveryStore{
		event:    pendingEvent(),
		endpoint: &model.Endpoint{ID: 1, URL: srv.URL, Secret: "s3cret", Active: true},
	}
	w := newTestWorker(store, srv.Client(), fastPolicy(maxDeliveryAttempts-1))

	w.deliver(context.Background(), 1)

	if len(store.marks) != maxDeliveryAttempts {
		t.Fatalf("expected %d recorded attempts, got %d: %v", maxDeliveryAttempts, len(store.marks), store.marks)
	}
	for i, status := range store.marks[:maxDeliveryAttempts-1] {
		if status != model.StatusPending {
			t.Errorf("attempt %d: expected pending, got %q", i+1, status)
		}
	}
	if last := store.marks[maxDeliveryAttempts-1]; last != model.StatusFailed {
		t.Errorf("expected failed on final attempt, got %q", last)
	}
	if len(store.requeued) != 0 {
		t.Errorf("failed event must not be re-enqueued, got %v", store.requeued)
	}
}

func TestDeliverRequeuesWhenBackoffExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &fakeDeliveryStore{
		event:    pendingEvent(),
		endpoint: &model.Endpoint{ID: 1, URL: srv.URL, Secret: "s3cret", Active: true},
	}
	// Backoff gives up after 2 tries, well below the attempt cap.
	w := newTestWorker(store, srv.Client(), fastPolicy(1))

	w.deliver(context.Background(), 1)

	if len(store.marks) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d: %v", len(store.marks), store.marks)
	}
	for i, status := range store.marks {
		if status != model.StatusPending {
			t.Errorf("attempt %d: expected pending, got %q", i+1, status)
		}
	}
	if len(store.requeued) != 1 {
		t.Fatalf("expected 1 re-enqueued task, got %d", len(store.requeued))
	}
	if store.requeued[0].EventID != 1 {
		t.Errorf("expected task for event 1, got %d", store.requeued[0].EventID)
	}
}

func TestDeliverInactiveEndpointFails(t *testing.T) {
	store := &fakeDeliveryStore{
		event:    pendingEvent(),
		endpoint: &model.Endpoint{ID: 1, URL: "http://localhost:8000/webhook", Secret: "s3cret", Active: false},
	}
	w := newTestWorker(store, &http.Client{}, fastPolicy(maxDeliveryAttempts-1))

	w.deliver(context.Background(), 1)

	if len(store.marks) != 1 || store.marks[0] != model.StatusFailed {
		t.Errorf("expected single failed mark, got %v", store.marks)
	}
	if len(store.requeued) != 0 {
		t.Errorf("inactive endpoint must not be re-enqueued, got %v", store.requeued)
	}
}

func TestDeliveryAttemptSendsPayloadAndHeaders(t *testing.T) {
	var gotSecret, gotEvent, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Webhook-Secret")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := &DeliveryWorker{logger: quietLogger(), client: srv.Client()}
	ev := &model.Event{
		ID:        1,
		EventType: "push",
		Payload:   json.RawMessage(`{"ref":"main"}`),
		Status:    model.StatusPending,
	}
	ep := &model.Endpoint{ID: 1, URL: srv.URL, Secret: "s3cret", Active: true}

	if err := w.attempt(context.Background(), ev, ep); err != nil {
		t.Fatalf("attempt failed: %v", err)
	}

	if gotSecret != "s3cret" {
		t.Errorf("expected secret header, got %q", gotSecret)
	}
	if gotEvent != "push" {
		t.Errorf("expected event header, got %q", gotEvent)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected json content type, got %q", gotContentType)
	}
	if gotBody != `{"ref":"main"}` {
		t.Errorf("unexpected delivered body: %q", gotBody)
	}
}

func TestDeliveryAttemptNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := &DeliveryWorker{logger: quietLogger(), client: srv.Client()}
	ev := &model.Event{ID: 1, EventType: "push", Payload: json.RawMessage(`{}`)}
	ep := &model.Endpoint{ID: 1, URL: srv.URL, Secret: "s3cret", Active: true}

	if err := w.attempt(context.Background(), ev, ep); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestDeliveryAttemptConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	w := &DeliveryWorker{logger: quietLogger(), client: &http.Client{}}
	ev := &model.Event{ID: 1, EventType: "push", Payload: json.RawMessage(`{}`)}
	ep := &model.Endpoint{ID: 1, URL: srv.URL, Secret: "s3cret", Active: true}

	if err := w.attempt(context.Background(), ev, ep); err == nil {
		t.Fatal("expected error for unreachable endpoint")
	}
}

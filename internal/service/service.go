package service

import (
	"context"
	"encoding/json"
	"errors"

	"webhook-relay/internal/model"
	"webhook-relay/internal/repository"

	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyURL         = errors.New("endpoint url is required")
	ErrEmptySecret      = errors.New("endpoint secret is required")
	ErrEmptyEventType   = errors.New("event type is required")
	ErrUnknownEndpoint  = errors.New("unknown endpoint")
	ErrInactiveEndpoint = errors.New("endpoint is not active")
)

// HealthError carries the database state for the health endpoint.
type HealthError struct {
	Database string
	Err      error
}

func (e *HealthError) Error() string {
	return e.Err.Error()
}

// Relay is what the HTTP handler needs from the service layer.
type Relay interface {
	HealthCheck(ctx context.Context) *HealthError
	RegisterEndpoint(ctx context.Context, req model.RegisterEndpointRequest) (*model.Endpoint, error)
	ListEndpoints(ctx context.Context) ([]model.Endpoint, error)
	PublishEvent(ctx context.Context, req model.PublishEventRequest) (*model.Event, error)
}

type RelayService struct {
	storage *repository.Storage
	logger  *logrus.Logger
}

func NewRelayService(storage *repository.Storage, logger *logrus.Logger) *RelayService {
	return &RelayService{
		storage: storage,
		logger:  logger,
	}
}

func (rs *RelayService) HealthCheck(ctx context.Context) *HealthError {
	if err := rs.storage.Ping(ctx); err != nil {
		rs.logger.WithError(err).Warn("health check: database unreachable")
		return &HealthError{Database: "disconnected", Err: err}
	}
	return nil
}

func (rs *RelayService) RegisterEndpoint(ctx context.Context, req model.RegisterEndpointRequest) (*model.Endpoint, error) {
	if req.URL == "" {
		return nil, ErrEmptyURL
	}
	if req.Secret == "" {
		return nil, ErrEmptySecret
	}

	ep := &model.Endpoint{
		URL:    req.URL,
		Secret: req.Secret,
	}
	if _, err := rs.storage.CreateEndpoint(ctx, ep); err != nil {
		rs.logger.WithError(err).Warn("failed to register endpoint")
		return nil, err
	}
	return ep, nil
}

func (rs *RelayService) ListEndpoints(ctx context.Context) ([]model.Endpoint, error) {
	endpoints, err := rs.storage.ListEndpoints(ctx)
	if err != nil {
		rs.logger.WithError(err).Warn("failed to list endpoints")
		return nil, err
	}
	if endpoints == nil {
		endpoints = []model.Endpoint{}
	}
	return endpoints, nil
}

// PublishEvent stores the event as pending and hands it to the delivery queue.
func (rs *RelayService) PublishEvent(ctx context.Context, req model.PublishEventRequest) (*model.Event, error) {
	if req.EventType == "" {
		return nil, ErrEmptyEventType
	}

	ep, err := rs.storage.GetEndpointByID(ctx, req.EndpointID)
	if err != nil {
		rs.logger.WithError(err).Warn("failed to load endpoint for event")
		return nil, err
	}
	if ep == nil {
		return nil, ErrUnknownEndpoint
	}
	if !ep.Active {
		return nil, ErrInactiveEndpoint
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	ev := &model.Event{
		EndpointID: ep.ID,
		EventType:  req.EventType,
		Payload:    payload,
	}
	if _, err := rs.storage.CreateEvent(ctx, ev); err != nil {
		rs.logger.WithError(err).Warn("failed to create event")
		return nil, err
	}

	if err := rs.storage.EnqueueDelivery(ctx, model.DeliveryTask{EventID: ev.ID}); err != nil {
		rs.logger.WithError(err).Error("failed to enqueue delivery")
		return nil, err
	}
	return ev, nil
}

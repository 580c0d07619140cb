package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"webhook-relay/internal/model"
	"webhook-relay/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	logger  *logrus.Logger
	service service.Relay
}

func NewHandler(logger *logrus.Logger, svc service.Relay) *Handler {
	return &Handler{
		logger:  logger,
		service: svc,
	}
}

func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/endpoints", h.RegisterEndpoint).Methods(http.MethodPost)
	api.HandleFunc("/endpoints", h.ListEndpoints).Methods(http.MethodGet)
	api.HandleFunc("/events", h.PublishEvent).Methods(http.MethodPost)
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if herr := h.service.HealthCheck(r.Context()); herr != nil {
		h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": herr.Database,
			"error":    herr.Error(),
		})
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "connected",
	})
}

func (h *Handler) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Info("invalid request body in RegisterEndpoint")
		h.respondWithError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	ep, err := h.service.RegisterEndpoint(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, ep)
}

func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.service.ListEndpoints(r.Context())
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, endpoints)
}

func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req model.PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Info("invalid request body in PublishEvent")
		h.respondWithError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	ev, err := h.service.PublishEvent(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusAccepted, ev)
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyURL),
		errors.Is(err, service.ErrEmptySecret),
		errors.Is(err, service.ErrEmptyEventType),
		errors.Is(err, service.ErrInactiveEndpoint):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnknownEndpoint):
		h.respondWithError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.WithError(err).Error("internal error")
		h.respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondWithError is called on an error to return info regarding the error
func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]string{"error": message})
}

// Called for responses to encode and send json data
func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		h.logger.WithError(err).Error("write response failed")
	}
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/middleware"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

// EventReader is the read side of the event store.
type EventReader interface {
	Events(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.StoredEvent, error)
	Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error)
	Count(ctx context.Context, aggregateID uuid.UUID) (int, error)
	EventsByType(ctx context.Context, eventType string) ([]eventstore.StoredEvent, error)
	EventsByAggregateType(ctx context.Context, aggregateType string) ([]eventstore.StoredEvent, error)
}

// EventStoreHandler exposes the event log for auditing.
type EventStoreHandler struct {
	events EventReader
}

type EventsResponse struct {
	Events []eventstore.StoredEvent `json:"events"`
	Total  int                      `json:"total"`
}

func NewEventStoreHandler(events EventReader) *EventStoreHandler {
	return &EventStoreHandler{events: events}
}

func (h *EventStoreHandler) GetTransactionEvents(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	events, err := h.events.Events(c.Request.Context(), id)
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	if len(events) == 0 {
		middleware.RespondWithError(c, http.StatusNotFound, "No events found for transaction")
		return
	}
	c.JSON(http.StatusOK, EventsResponse{Events: events, Total: len(events)})
}

func (h *EventStoreHandler) CountTransactionEvents(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	count, err := h.events.Count(c.Request.Context(), id)
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactionId": id, "count": count})
}

func (h *EventStoreHandler) TransactionExists(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	exists, err := h.events.Exists(c.Request.Context(), id)
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactionId": id, "exists": exists})
}

func (h *EventStoreHandler) GetEventsByType(c *gin.Context) {
	events, err := h.events.EventsByType(c.Request.Context(), c.Param("eventType"))
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, EventsResponse{Events: nonNil(events), Total: len(events)})
}

func (h *EventStoreHandler) GetAllEvents(c *gin.Context) {
	events, err := h.events.EventsByAggregateType(c.Request.Context(), domain.AggregateType)
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, EventsResponse{Events: nonNil(events), Total: len(events)})
}

// Register mounts the audit routes on r behind auth.
func (h *EventStoreHandler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	v1 := r.Group("/v1/events", auth, auditLog)
	v1.GET("", h.GetAllEvents)
	v1.GET("/types/:eventType", h.GetEventsByType)
	v1.GET("/transactions/:transactionId", h.GetTransactionEvents)
	v1.GET("/transactions/:transactionId/count", h.CountTransactionEvents)
	v1.GET("/transactions/:transactionId/exists", h.TransactionExists)
}

func auditLog(c *gin.Context) {
	subject, _ := middleware.GetSubject(c)
	logrus.WithFields(logrus.Fields{
		"subject": subject,
		"path":    c.Request.URL.Path,
	}).Info("event store read")
	c.Next()
}

func transactionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("transactionId"))
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid transaction id")
		return uuid.Nil, false
	}
	return id, true
}

func nonNil(events []eventstore.StoredEvent) []eventstore.StoredEvent {
	if events == nil {
		return []eventstore.StoredEvent{}
	}
	return events
}

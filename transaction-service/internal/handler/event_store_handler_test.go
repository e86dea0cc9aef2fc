package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/middleware"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/eventstore"
)

const auditSecret = "audit-secret"

func auditToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "auditor",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := token.SignedString([]byte(auditSecret))
	require.NoError(t, err)
	return s
}

func newAuditRouter(reader EventReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewEventStoreHandler(reader).Register(r, middleware.AuthMiddleware([]byte(auditSecret)))
	return r
}

func auditGet(t *testing.T, router *gin.Engine, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+auditToken(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seededStore(t *testing.T) (*eventstore.MemoryStore, uuid.UUID) {
	t.Helper()
	store := eventstore.NewMemoryStore()
	id := uuid.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	created := domain.NewTransactionCreated(id, uuid.New(), uuid.New(), 1, decimal.NewFromInt(500), now)
	_, err := store.Append(context.Background(), created, "")
	require.NoError(t, err)
	_, err = store.Append(context.Background(), domain.TransactionStatusChanged{
		TransactionID: id,
		OldStatus:     models.StatusPending,
		NewStatus:     models.StatusApproved,
		Reason:        domain.StatusChangeReason,
		Timestamp:     now.Add(time.Second),
	}, "1-0")
	require.NoError(t, err)
	return store, id
}

func TestEventStoreRequiresAuth(t *testing.T) {
	store, _ := seededStore(t)
	router := newAuditRouter(store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetTransactionEvents(t *testing.T) {
	store, id := seededStore(t)
	router := newAuditRouter(store)

	w := auditGet(t, router, "/v1/events/transactions/"+id.String())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp EventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, domain.EventTransactionCreated, resp.Events[0].EventType)
	assert.Equal(t, 1, resp.Events[0].Version)
	assert.Equal(t, domain.EventTransactionStatusChanged, resp.Events[1].EventType)
	assert.Equal(t, 2, resp.Events[1].Version)

	assert.Equal(t, http.StatusNotFound, auditGet(t, router, "/v1/events/transactions/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, auditGet(t, router, "/v1/events/transactions/abc").Code)
}

func TestCountAndExists(t *testing.T) {
	store, id := seededStore(t)
	router := newAuditRouter(store)

	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{name: "count known", url: "/v1/events/transactions/" + id.String() + "/count", expected: fmt.Sprintf(`{"transactionId":%q,"count":2}`, id)},
		{name: "count unknown", url: "/v1/events/transactions/" + uuid.Nil.String() + "/count", expected: fmt.Sprintf(`{"transactionId":%q,"count":0}`, uuid.Nil)},
		{name: "exists known", url: "/v1/events/transactions/" + id.String() + "/exists", expected: fmt.Sprintf(`{"transactionId":%q,"exists":true}`, id)},
		{name: "exists unknown", url: "/v1/events/transactions/" + uuid.Nil.String() + "/exists", expected: fmt.Sprintf(`{"transactionId":%q,"exists":false}`, uuid.Nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := auditGet(t, router, tt.url)
			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, tt.expected, w.Body.String())
		})
	}
}

func TestGetEventsByTypeAndAll(t *testing.T) {
	store, _ := seededStore(t)
	other, err := store.Append(context.Background(),
		domain.NewTransactionCreated(uuid.New(), uuid.New(), uuid.New(), 2, decimal.NewFromInt(2000), time.Now()), "")
	require.NoError(t, err)
	router := newAuditRouter(store)

	var resp EventsResponse
	w := auditGet(t, router, "/v1/events/types/"+domain.EventTransactionCreated)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, other.AggregateID, resp.Events[0].AggregateID, "newest first")

	w = auditGet(t, router, "/v1/events/types/NoSuchEvent")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[],"total":0}`, w.Body.String())

	w = auditGet(t, router, "/v1/events")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
}

type failingEventReader struct {
	eventstore.Store
}

func (failingEventReader) Events(context.Context, uuid.UUID) ([]eventstore.StoredEvent, error) {
	return nil, fmt.Errorf("%w: connection refused", apperrors.ErrServiceUnavailable)
}

func TestEventStoreOutage(t *testing.T) {
	router := newAuditRouter(failingEventReader{})

	w := auditGet(t, router, "/v1/events/transactions/"+uuid.NewString())

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

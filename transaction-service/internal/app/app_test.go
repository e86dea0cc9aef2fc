package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/config"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.TransactionService {
	return config.TransactionService{
		Common: config.Common{
			BrokerPartitions:     3,
			ConsumerGroup:        "transaction-service-group",
			ConsumerName:         "test",
			PublishAckTimeout:    time.Second,
			RetryMaxAttempts:     2,
			RetryInitialInterval: time.Millisecond,
			BreakerFailureRatio:  0.5,
			BreakerMinRequests:   10,
			BreakerOpenTimeout:   time.Minute,
		},
		StorageDriver:            StorageMemory,
		CacheTransactionsTTL:     10 * time.Minute,
		CacheTransactionTypesTTL: time.Hour,
		OutboxSchedule:           "@every 30s",
		OutboxBatchSize:          10,
		RateLimit:                "100-M",
		AuditJWTSecret:           "secret",
	}
}

func newTestApp(t *testing.T) (*App, *miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	a, err := New(context.Background(), testConfig(), rdb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, mr, rdb
}

func do(a *App, method, url, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	return w
}

func createTransaction(t *testing.T, a *App, value string) models.TransactionView {
	t.Helper()
	body := `{"accountExternalIdDebit":"` + uuid.NewString() +
		`","accountExternalIdCredit":"` + uuid.NewString() +
		`","tranferTypeId":1,"value":` + value + `}`
	w := do(a, http.MethodPost, "/v1/transactions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var view models.TransactionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func getTransaction(t *testing.T, a *App, id string) models.TransactionView {
	t.Helper()
	w := do(a, http.MethodGet, "/v1/transactions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view models.TransactionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func TestNewRejectsUnknownStorageDriver(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	cfg.StorageDriver = "mongo"
	_, err := New(context.Background(), cfg, rdb)

	assert.Error(t, err)
}

func TestCreatePublishesCreatedEvent(t *testing.T) {
	a, _, rdb := newTestApp(t)

	view := createTransaction(t, a, "500")
	assert.Equal(t, "PENDING", view.TransactionStatus.Name)
	assert.Equal(t, "Tipo A", view.TransactionType.Name)

	stream := events.StreamName(events.TransactionCreatedTopic, events.Partition(view.TransactionExternalID, 3))
	entries, err := rdb.XRange(context.Background(), stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var event events.Event
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["event"].(string)), &event))
	assert.Equal(t, events.TransactionCreated, event.Type)
	assert.Equal(t, view.TransactionExternalID, event.Key)

	var payload events.TransactionCreatedEvent
	require.NoError(t, event.Decode(&payload))
	assert.Equal(t, view.TransactionExternalID, payload.TransactionExternalID.String())
	assert.Equal(t, "500", payload.Value.String())
	assert.Equal(t, models.StatusPending, payload.Status)
}

func TestVerdictUpdatesCachedView(t *testing.T) {
	a, _, _ := newTestApp(t)
	view := createTransaction(t, a, "2000")

	// warm the cache
	assert.Equal(t, "PENDING", getTransaction(t, a, view.TransactionExternalID).TransactionStatus.Name)

	event, err := events.NewEvent(events.TransactionStatusUpdated, view.TransactionExternalID, events.TransactionStatusEvent{
		TransactionExternalID: uuid.MustParse(view.TransactionExternalID),
		Status:                models.StatusRejected,
	})
	require.NoError(t, err)
	msg := events.Message{Topic: events.TransactionStatusUpdatedTopic, ID: "1-1", Event: event}
	require.NoError(t, a.consumer.Handle(context.Background(), msg))

	assert.Equal(t, "REJECTED", getTransaction(t, a, view.TransactionExternalID).TransactionStatus.Name)

	// redelivery is a no-op
	require.NoError(t, a.consumer.Handle(context.Background(), msg))
	count, err := a.uow.Stores().Events.Count(context.Background(), uuid.MustParse(view.TransactionExternalID))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCreateRejectsValuesTheLedgerCannotHold(t *testing.T) {
	a, _, _ := newTestApp(t)

	for _, value := range []string{"0.004", "100000000000000000"} {
		body := `{"accountExternalIdDebit":"` + uuid.NewString() +
			`","accountExternalIdCredit":"` + uuid.NewString() +
			`","tranferTypeId":1,"value":` + value + `}`
		w := do(a, http.MethodPost, "/v1/transactions", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, value)
	}
	assert.Equal(t, "closed", a.dbBreaker.State())
}

func TestGetUnknownTransaction(t *testing.T) {
	a, _, _ := newTestApp(t)

	w := do(a, http.MethodGet, "/v1/transactions/"+uuid.NewString(), "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditAPIRequiresToken(t *testing.T) {
	a, _, _ := newTestApp(t)

	w := do(a, http.MethodGet, "/v1/events", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	a, mr, _ := newTestApp(t)

	w := do(a, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	mr.SetError("ERR server unavailable")
	w = do(a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestRunStopsOnCancel(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

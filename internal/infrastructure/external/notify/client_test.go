package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

func testRequest() intervention.DispatchRequest {
	return intervention.DispatchRequest{
		RecipientRole: intervention.RecipientTeacher,
		AlertID:       uuid.New(),
		StudentID:     uuid.New(),
		StudentName:   "Ada Byron",
		Subject:       "English",
		WeeksFailing:  3,
		Priority:      "medium",
	}
}

func TestClient_Dispatch_Success(t *testing.T) {
	req := testRequest()
	var got intervention.DispatchRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, req.AlertID.String()+":teacher", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"m-1"}`))
	}))
	defer server.Close()

	cfg := DefaultClientConfig(server.URL)
	cfg.APIKey = "secret"
	client := NewClient(cfg)

	require.NoError(t, client.Dispatch(context.Background(), req))
	assert.Equal(t, req.AlertID, got.AlertID)
	assert.Equal(t, intervention.RecipientTeacher, got.RecipientRole)
}

func TestClient_Dispatch_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL))

	require.NoError(t, client.Dispatch(context.Background(), testRequest()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Dispatch_PermanentFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown recipient", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL))

	err := client.Dispatch(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrExternalService)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Dispatch_InvalidRequest(t *testing.T) {
	client := NewClient(DefaultClientConfig("http://127.0.0.1:1"))

	req := testRequest()
	req.RecipientRole = "GUARDIAN"

	err := client.Dispatch(context.Background(), req)
	assert.ErrorIs(t, err, shared.ErrInvalidRecipient)
	assert.NotErrorIs(t, err, shared.ErrExternalService)
}

func TestNew_WithoutEndpointLogs(t *testing.T) {
	d := New(ClientConfig{})
	_, ok := d.(*LogDispatcher)
	require.True(t, ok)
	err := d.Dispatch(context.Background(), testRequest())
	assert.ErrorIs(t, err, shared.ErrNotificationNotSent)
	assert.NotErrorIs(t, err, shared.ErrExternalService)

	_, ok = New(DefaultClientConfig("http://example.invalid")).(*Client)
	assert.True(t, ok)
}

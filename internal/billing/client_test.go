package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RichardoC/creditchat/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "secret", time.Second, zap.NewNop(), opts...)
}

func TestCheckCreditsAvailable(t *testing.T) {
	var got graphQLRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"checkAvailableCredits":true}}`)
	})

	ok := client.CheckCredits(context.Background(), "cust-1", "web-user-1", "web")

	assert.True(t, ok)
	assert.Contains(t, got.Query, "checkAvailableCredits")
	assert.Equal(t, "cust-1", got.Variables["customerId"])
	assert.Equal(t, "web-user-1", got.Variables["senderId"])
	assert.Equal(t, "web", got.Variables["inputChannel"])
}

func TestCheckCreditsFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "no credits", status: http.StatusOK, body: `{"data":{"checkAvailableCredits":false}}`},
		{name: "http error", status: http.StatusInternalServerError, body: "boom", wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "nope", wantErr: true},
		{name: "graphql errors", status: http.StatusOK, body: `{"data":null,"errors":[{"message":"customer not found"}]}`, wantErr: true},
		{name: "null result", status: http.StatusOK, body: `{"data":{"checkAvailableCredits":null}}`, wantErr: true},
		{name: "missing data", status: http.StatusOK, body: `{}`, wantErr: true},
		{name: "malformed json", status: http.StatusOK, body: `{"data":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			assert.False(t, client.CheckCredits(context.Background(), "cust-1", "web-user-1", "web"))

			ok, err := client.AvailableCredits(context.Background(), "cust-1", "web-user-1", "web")
			assert.False(t, ok)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckCreditsTransportFailure(t *testing.T) {
	client := NewClient("http://127.0.0.1:1/graphql", "secret", 200*time.Millisecond, zap.NewNop())

	assert.False(t, client.CheckCredits(context.Background(), "cust-1", "web-user-1", "web"))
	assert.Nil(t, client.GetBillingInfo(context.Background(), "cust-1"))
}

func TestCheckCreditsRecordsOutcome(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	var allowed atomic.Bool
	allowed.Store(true)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{"checkAvailableCredits":%t}}`, allowed.Load())
	}, WithMetrics(m))

	client.CheckCredits(context.Background(), "c", "s", "web")
	allowed.Store(false)
	client.CheckCredits(context.Background(), "c", "s", "web")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CreditChecksTotal.WithLabelValues(metrics.OutcomeAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CreditChecksTotal.WithLabelValues(metrics.OutcomeDenied)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BillingRequestsTotal.WithLabelValues("check_credits", "ok")))
}

func TestGetBillingInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "billing(customerId: $customerId)")
		assert.Equal(t, "cust-1", req.Variables["customerId"])

		fmt.Fprint(w, `{"data":{"billing":{"id":"b1","customerId":"cust-1","monthlyCredits":100,"usedCredits":40,"additionalCredits":5,"remainingCredits":65,"debtLimit":10}}}`)
	})

	snapshot := client.GetBillingInfo(context.Background(), "cust-1")

	require.NotNil(t, snapshot)
	assert.Equal(t, "b1", snapshot.ID)
	assert.Equal(t, "cust-1", snapshot.CustomerID)
	assert.Equal(t, 100.0, snapshot.MonthlyCredits)
	assert.Equal(t, 40.0, snapshot.UsedCredits)
	assert.Equal(t, 5.0, snapshot.AdditionalCredits)
	assert.Equal(t, 65.0, snapshot.RemainingCredits)
	assert.Equal(t, 10.0, snapshot.DebtLimit)
}

func TestGetBillingInfoAbsent(t *testing.T) {
	tests := map[string]string{
		"null billing":   `{"data":{"billing":null}}`,
		"graphql errors": `{"errors":[{"message":"forbidden"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			})
			assert.Nil(t, client.GetBillingInfo(context.Background(), "cust-1"))

			_, err := client.Billing(context.Background(), "cust-1")
			assert.Error(t, err)
		})
	}
}

func TestConsumeCreditsIsNoop(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	assert.True(t, client.ConsumeCredits(context.Background(), "cust-1", 3))
	assert.Zero(t, calls.Load())
}

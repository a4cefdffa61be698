// Package billing provides a client for the GraphQL billing API that decides
// whether a customer may use the chat.
//
// The client is fail-closed: CheckCredits and GetBillingInfo never return
// errors. Any transport failure, non-2xx status or GraphQL error is logged and
// reported as "no credits" or "no snapshot". AvailableCredits and Billing are
// the same calls with the error kept, for callers that need to tell an empty
// account from an unreachable billing API.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RichardoC/creditchat/internal/metrics"
	"github.com/RichardoC/creditchat/internal/models"
	"github.com/RichardoC/creditchat/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const checkCreditsMutation = `
mutation CheckCredits($customerId: String!, $senderId: String!, $inputChannel: String!) {
  checkAvailableCredits(
    customerId: $customerId,
    senderId: $senderId,
    inputChannel: $inputChannel
  )
}`

const billingQuery = `
query GetBilling($customerId: String!) {
  billing(customerId: $customerId) {
    id
    customerId
    monthlyCredits
    usedCredits
    additionalCredits
    remainingCredits
    debtLimit
  }
}`

// ErrEmptyResult is returned when the billing API answers without the requested field.
var ErrEmptyResult = errors.New("billing API returned no result")

// Client is the billing API client.
type Client struct {
	endpoint    string
	bearerToken string
	httpClient  *http.Client
	logger      *zap.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// NewClient creates a billing client. A missing bearer token is logged and
// tolerated; every call will then be rejected upstream and fail closed.
func NewClient(endpoint, bearerToken string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tracer = telemetry.Tracer(c.tracer)

	if bearerToken == "" {
		logger.Warn("BILLING_API_BEARER_TOKEN not set")
	}
	return c
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   *json.RawMessage `json:"data"`
	Errors []graphQLError   `json:"errors,omitempty"`
}

type checkCreditsData struct {
	CheckAvailableCredits *bool `json:"checkAvailableCredits"`
}

type billingData struct {
	Billing *models.BillingSnapshot `json:"billing"`
}

// CheckCredits reports whether the customer may start or continue a
// conversation. Errors are logged and treated as insufficient credits.
func (c *Client) CheckCredits(ctx context.Context, customerID, senderID, inputChannel string) bool {
	ok, err := c.AvailableCredits(ctx, customerID, senderID, inputChannel)
	if err != nil {
		c.logger.Warn("Failed to check credits",
			zap.Error(err),
			zap.String("customerId", customerID))
		c.metrics.RecordCreditCheck(metrics.OutcomeError)
		return false
	}
	if ok {
		c.metrics.RecordCreditCheck(metrics.OutcomeAllowed)
	} else {
		c.metrics.RecordCreditCheck(metrics.OutcomeDenied)
	}
	return ok
}

// AvailableCredits asks the billing API whether the customer has credits left.
func (c *Client) AvailableCredits(ctx context.Context, customerID, senderID, inputChannel string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "billing.check_credits",
		trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	var data checkCreditsData
	err := c.do(ctx, "check_credits", graphQLRequest{
		Query: checkCreditsMutation,
		Variables: map[string]any{
			"customerId":   customerID,
			"senderId":     senderID,
			"inputChannel": inputChannel,
		},
	}, &data)
	if err == nil && data.CheckAvailableCredits == nil {
		err = ErrEmptyResult
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	span.SetAttributes(attribute.Bool("credits.available", *data.CheckAvailableCredits))
	return *data.CheckAvailableCredits, nil
}

// GetBillingInfo returns the billing snapshot of a customer, or nil when it
// cannot be fetched.
func (c *Client) GetBillingInfo(ctx context.Context, customerID string) *models.BillingSnapshot {
	snapshot, err := c.Billing(ctx, customerID)
	if err != nil {
		c.logger.Warn("Failed to get billing info",
			zap.Error(err),
			zap.String("customerId", customerID))
		return nil
	}
	return snapshot
}

// Billing fetches the billing snapshot of a customer.
func (c *Client) Billing(ctx context.Context, customerID string) (*models.BillingSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "billing.get_billing",
		trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	var data billingData
	err := c.do(ctx, "get_billing", graphQLRequest{
		Query:     billingQuery,
		Variables: map[string]any{"customerId": customerID},
	}, &data)
	if err == nil && data.Billing == nil {
		err = ErrEmptyResult
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return data.Billing, nil
}

// ConsumeCredits is a no-op that always reports success. The billing API has
// no consumption mutation; turns are accounted in the local usage ledger.
func (c *Client) ConsumeCredits(ctx context.Context, customerID string, amount int) bool {
	c.logger.Debug("Credit consumption not forwarded to billing API",
		zap.String("customerId", customerID),
		zap.Int("amount", amount))
	return true
}

// do posts one GraphQL request and decodes its data into out.
func (c *Client) do(ctx context.Context, operation string, gqlReq graphQLRequest, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordBillingRequest(operation, status, time.Since(start))
	}()

	body, err := json.Marshal(gqlReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("billing API error [%d]: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("billing API GraphQL errors: %s", strings.Join(messages, "; "))
	}
	if envelope.Data == nil {
		return ErrEmptyResult
	}
	if err := json.Unmarshal(*envelope.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
}

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procure-requests/internal/httpclient"
)

// GatewayClient is a client for the payment gateway service. Every initiate
// call carries an Idempotency-Key header so that retried submissions of the
// same payment attempt are collapsed on the provider side.
type GatewayClient struct {
	client *httpclient.Client
}

// NewGatewayClient creates a payment gateway client.
func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewayClient{
		client: httpclient.NewClientWithTimeout(baseURL, timeout),
	}
}

type initiatePaymentRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type initiatePaymentResponse struct {
	GatewayRef string `json:"gateway_ref"`
	Status     string `json:"status"`
}

// Initiate submits a payment to the gateway and returns the gateway's
// reference for the attempt.
func (c *GatewayClient) Initiate(ctx context.Context, idempotencyKey string, amount decimal.Decimal, currency string) (string, error) {
	req := initiatePaymentRequest{
		Amount:   amount.StringFixed(2),
		Currency: currency,
	}
	headers := map[string]string{"Idempotency-Key": idempotencyKey}

	var resp initiatePaymentResponse
	if err := c.client.PostWithHeaders(ctx, "/api/v1/payments", headers, req, &resp); err != nil {
		return "", fmt.Errorf("failed to initiate payment: %w", err)
	}
	if resp.GatewayRef == "" {
		return "", fmt.Errorf("payment gateway returned no reference")
	}
	return resp.GatewayRef, nil
}

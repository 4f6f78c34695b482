package wompi

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Transaction statuses reported by the gateway
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusVoided   = "VOIDED"
	StatusError    = "ERROR"
	StatusPending  = "PENDING"
)

// Transaction is the gateway's view of one payment attempt. Reference is the
// external reference shared with the reservation batch.
type Transaction struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	StatusMessage     string `json:"status_message,omitempty"`
	Reference         string `json:"reference"`
	AmountInCents     int64  `json:"amount_in_cents"`
	Currency          string `json:"currency"`
	CustomerEmail     string `json:"customer_email,omitempty"`
	PaymentMethodType string `json:"payment_method_type,omitempty"`
}

// PaymentLinkRequest creates a single-use hosted checkout page
type PaymentLinkRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	SingleUse       bool   `json:"single_use"`
	AmountInCents   int64  `json:"amount_in_cents"`
	Currency        string `json:"currency"`
	RedirectURL     string `json:"redirect_url,omitempty"`
	Reference       string `json:"sku,omitempty"`
	CollectShipping bool   `json:"collect_shipping"`
}

// PaymentLink is the created hosted checkout page
type PaymentLink struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client talks to the Wompi REST API. Payment links use the private key;
// read endpoints use the public key.
type Client struct {
	http       *resty.Client
	publicKey  string
	privateKey string
	log        *zap.Logger
}

// NewClient creates a Wompi API client against baseURL (sandbox or production)
func NewClient(baseURL, publicKey, privateKey string, log *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:       http,
		publicKey:  publicKey,
		privateKey: privateKey,
		log:        log,
	}
}

type paymentLinkEnvelope struct {
	Data PaymentLink `json:"data"`
}

type transactionEnvelope struct {
	Data Transaction `json:"data"`
}

// CreatePaymentLink creates a hosted checkout page for one checkout attempt
// and returns it with its public URL filled in.
func (c *Client) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (*PaymentLink, error) {
	var envelope paymentLinkEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.privateKey).
		SetBody(req).
		SetResult(&envelope).
		Post("/payment_links")
	if err != nil {
		return nil, fmt.Errorf("wompi payment link request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wompi payment link rejected: %s: %s", resp.Status(), resp.String())
	}

	link := envelope.Data
	if link.URL == "" {
		link.URL = fmt.Sprintf("https://checkout.wompi.co/l/%s", link.ID)
	}

	c.log.Info("Payment link created",
		zap.String("link_id", link.ID),
		zap.Int64("amount_in_cents", req.AmountInCents),
	)
	return &link, nil
}

// GetTransaction fetches a transaction by gateway id. Used by the manual
// reconciliation tooling when a webhook is in doubt.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var envelope transactionEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.publicKey).
		SetResult(&envelope).
		Get(fmt.Sprintf("/transactions/%s", id))
	if err != nil {
		return nil, fmt.Errorf("wompi transaction lookup failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wompi transaction lookup rejected: %s", resp.Status())
	}
	return &envelope.Data, nil
}

// internal/paypal/client.go
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "studyhub-service/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const tokenCacheKey = "paypal:access_token"

type Config struct {
	BaseURL     string
	ClientID    string
	Secret      string
	PlanMonthly string
	PlanYearly  string
	ReturnURL   string
	CancelURL   string
}

// Client talks to the PayPal REST API. Access tokens from the
// client-credentials grant are cached in Redis until shortly before they
// expire, so concurrent instances share one token.
type Client struct {
	cfg    Config
	http   *http.Client
	redis  *redis.Client
	logger *zap.Logger
}

func NewClient(cfg Config, rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		redis:  rdb,
		logger: logger,
	}
}

// PlanID maps an internal plan name to the provider's billing plan id.
func (c *Client) PlanID(plan string) (string, bool) {
	switch plan {
	case "monthly":
		return c.cfg.PlanMonthly, true
	case "yearly":
		return c.cfg.PlanYearly, true
	}
	return "", false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type LastPayment struct {
	Amount Amount    `json:"amount"`
	Time   time.Time `json:"time"`
}

type BillingInfo struct {
	NextBillingTime time.Time    `json:"next_billing_time"`
	LastPayment     *LastPayment `json:"last_payment,omitempty"`
}

// Subscription is the provider's view of a billing agreement.
type Subscription struct {
	ID          string       `json:"id"`
	PlanID      string       `json:"plan_id"`
	Status      string       `json:"status"`
	BillingInfo *BillingInfo `json:"billing_info,omitempty"`
	Links       []Link       `json:"links,omitempty"`
}

// ApprovalURL returns the link the subscriber must visit to approve the
// subscription, or empty if the provider did not include one.
func (s *Subscription) ApprovalURL() string {
	for _, l := range s.Links {
		if l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}

// accessToken returns a valid bearer token, fetching a new one from the
// OAuth endpoint when the cached one is missing or expired.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, err := c.redis.Get(ctx, tokenCacheKey).Result(); err == nil && token != "" {
		return token, nil
	} else if err != nil && err != redis.Nil {
		c.logger.Warn("paypal token cache read failed", zap.Error(err))
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("paypal token request rejected",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return "", fmt.Errorf("token request returned %d: %w", resp.StatusCode, xerrors.ErrBadGateway)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token: %w", xerrors.ErrBadGateway)
	}

	// Cache with a safety margin so we never present a token about to expire.
	ttl := time.Duration(tok.ExpiresIn-60) * time.Second
	if ttl > 0 {
		if err := c.redis.Set(ctx, tokenCacheKey, tok.AccessToken, ttl).Err(); err != nil {
			c.logger.Warn("paypal token cache write failed", zap.Error(err))
		}
	}

	return tok.AccessToken, nil
}

// do sends the request, retrying once on transport errors. HTTP error
// statuses are not retried; callers decide what they mean.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	resp, err := c.http.Do(req)
	if err == nil {
		return resp, nil
	}

	if req.Context().Err() != nil {
		return nil, fmt.Errorf("paypal request failed: %w", err)
	}

	c.logger.Warn("paypal request failed, retrying", zap.String("url", req.URL.Path), zap.Error(err))
	retry := req.Clone(req.Context())
	if body != nil {
		retry.Body = io.NopCloser(bytes.NewReader(body))
	}

	resp, err = c.http.Do(retry)
	if err != nil {
		// Timeouts and refused connections are the provider's problem from
		// the caller's point of view.
		return nil, fmt.Errorf("paypal request failed after retry: %v: %w", err, xerrors.ErrBadGateway)
	}
	return resp, nil
}

func (c *Client) authorizedRequest(ctx context.Context, method, path string, payload interface{}) (*http.Request, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

// CreateSubscription creates a provider subscription on the given billing
// plan for the given subscriber and returns it with the approval link the
// user must follow.
func (c *Client) CreateSubscription(ctx context.Context, planID, subscriberEmail string) (*Subscription, error) {
	payload := map[string]interface{}{
		"plan_id": planID,
		"application_context": map[string]string{
			"return_url": c.cfg.ReturnURL,
			"cancel_url": c.cfg.CancelURL,
		},
	}
	if subscriberEmail != "" {
		payload["subscriber"] = map[string]string{"email_address": subscriberEmail}
	}

	req, err := c.authorizedRequest(ctx, http.MethodPost, "/v1/billing/subscriptions", payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("paypal create subscription rejected",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("create subscription returned %d: %w", resp.StatusCode, xerrors.ErrBadGateway)
	}

	var sub Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}

	return &sub, nil
}

// GetSubscription fetches the current provider state of a subscription.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	req, err := c.authorizedRequest(ctx, http.MethodGet, "/v1/billing/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, xerrors.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("paypal get subscription rejected",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("get subscription returned %d: %w", resp.StatusCode, xerrors.ErrBadGateway)
	}

	var sub Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}

	return &sub, nil
}

// CancelSubscription requests provider-side cancellation. PayPal answers
// 422 when the subscription is already cancelled; that is treated as
// success since the desired end state holds.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	payload := map[string]string{"reason": reason}

	req, err := c.authorizedRequest(ctx, http.MethodPost,
		"/v1/billing/subscriptions/"+subscriptionID+"/cancel", payload)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusUnprocessableEntity:
		c.logger.Info("paypal subscription already cancelled", zap.String("subscription_id", subscriptionID))
		return nil
	case http.StatusNotFound:
		return xerrors.ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("paypal cancel subscription rejected",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return fmt.Errorf("cancel subscription returned %d: %w", resp.StatusCode, xerrors.ErrBadGateway)
	}
}

// ParseAmount converts a provider decimal amount string ("4.99") to minor
// units. Amounts with more than two decimal places are rejected.
func ParseAmount(value string) (int64, error) {
	whole, frac, found := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}

	var cents int64
	if found {
		if len(frac) > 2 {
			return 0, fmt.Errorf("invalid amount %q: too many decimal places", value)
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", value, err)
		}
	}

	return units*100 + cents, nil
}

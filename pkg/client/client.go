// Package client is a small Go SDK for the storybook HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New returns a client that authenticates every call with the bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    pkgerrors.Code `json:"code"`
		Message string         `json:"message"`
		Details any            `json:"details"`
	} `json:"error"`
}

// Order fetches one of the caller's orders.
func (c *Client) Order(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := c.get(ctx, "/api/orders/"+orderID.String(), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) Balance(ctx context.Context) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	if err := c.get(ctx, "/api/credits/balance", &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storybook api unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read response")
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("unexpected response (status %d)", resp.StatusCode))
	}
	if env.Error != nil {
		return pkgerrors.New(env.Error.Code, env.Error.Message).WithDetails(env.Error.Details)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("request failed with status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// Package lulu talks to the Lulu print API for product and shipping costs.
package lulu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/digkill/storybook/internal/config"
	"github.com/digkill/storybook/internal/models"
)

const tokenPath = "/auth/realms/glasstree/protocol/openid-connect/token"

// APIError is a non-2xx answer from the print API.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lulu error: status=%d path=%s body=%s", e.Status, e.Path, e.Body)
}

type Client struct {
	baseURL    string
	packages   map[models.ProductType]string
	pageCount  int
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time
}

func NewClient(cfg config.LuluConfig, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientKey,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// the token source keeps this context for refreshes
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	httpClient := creds.Client(tokenCtx)
	httpClient.Timeout = timeout

	pageCount := cfg.PageCount
	if pageCount <= 0 {
		pageCount = 32
	}
	return &Client{
		baseURL: base,
		packages: map[models.ProductType]string{
			models.ProductSoftcover: cfg.SoftcoverPackage,
			models.ProductHardcover: cfg.HardcoverPackage,
		},
		pageCount:  pageCount,
		httpClient: httpClient,
		log:        log,
		now:        time.Now,
	}
}

type lineItem struct {
	PageCount    int    `json:"page_count"`
	PodPackageID string `json:"pod_package_id"`
	Quantity     int    `json:"quantity"`
}

type costAddress struct {
	City        string `json:"city"`
	CountryCode string `json:"country_code"`
	PostCode    string `json:"postcode"`
	StateCode   string `json:"state_code"`
	Street1     string `json:"street1"`
	PhoneNumber string `json:"phone_number"`
}

type optionsAddress struct {
	City      string `json:"city"`
	Country   string `json:"country"`
	PostCode  string `json:"postcode"`
	StateCode string `json:"state_code"`
	Street1   string `json:"street1"`
}

type costResponse struct {
	Currency      string `json:"currency"`
	LineItemCosts []struct {
		TotalCostExclTax string `json:"total_cost_excl_tax"`
	} `json:"line_item_costs"`
}

type shippingOption struct {
	Level           string `json:"level"`
	CostExclTax     string `json:"cost_excl_tax"`
	Currency        string `json:"currency"`
	TotalDaysMin    int    `json:"total_days_min"`
	TotalDaysMax    int    `json:"total_days_max"`
	MinDeliveryDate string `json:"min_delivery_date"`
	MaxDeliveryDate string `json:"max_delivery_date"`
}

// Quote returns every shipping level available for the address, each priced
// with the product cost of quantity books of the given type.
func (c *Client) Quote(ctx context.Context, addr models.ShippingAddress, quantity int, productType models.ProductType) ([]models.ShippingOption, error) {
	pkg, ok := c.packages[productType]
	if !ok || pkg == "" {
		return nil, fmt.Errorf("no print package for %q", productType)
	}
	if quantity <= 0 {
		quantity = 1
	}
	items := []lineItem{{PageCount: c.pageCount, PodPackageID: pkg, Quantity: quantity}}

	productCents, currency, err := c.productCost(ctx, items, addr)
	if err != nil {
		return nil, err
	}

	var levels []shippingOption
	err = c.post(ctx, "/shipping-options/", map[string]any{
		"line_items": items,
		"shipping_address": optionsAddress{
			City:      addr.City,
			Country:   addr.CountryCode,
			PostCode:  addr.Zip,
			StateCode: addr.State,
			Street1:   addr.Street1,
		},
		"currency": strings.ToUpper(currency),
	}, &levels)
	if err != nil {
		return nil, err
	}

	today := c.now().UTC().Truncate(24 * time.Hour)
	options := make([]models.ShippingOption, 0, len(levels))
	for _, level := range levels {
		shippingCents, err := toCents(level.CostExclTax)
		if err != nil {
			return nil, fmt.Errorf("parse shipping cost for %s: %w", level.Level, err)
		}
		optCurrency := strings.ToLower(level.Currency)
		if optCurrency == "" {
			optCurrency = strings.ToLower(currency)
		}
		options = append(options, models.ShippingOption{
			ID:                level.Level,
			Label:             levelLabel(level.Level),
			ProductCostCents:  productCents,
			ShippingCostCents: shippingCents,
			TotalCostCents:    productCents + shippingCents,
			Currency:          optCurrency,
			MinDeliveryDays:   level.TotalDaysMin,
			MaxDeliveryDays:   level.TotalDaysMax,
			EstimatedFrom:     parseDate(level.MinDeliveryDate, today.AddDate(0, 0, level.TotalDaysMin)),
			EstimatedTo:       parseDate(level.MaxDeliveryDate, today.AddDate(0, 0, level.TotalDaysMax)),
		})
	}
	if c.log != nil {
		c.log.Info("lulu shipping quoted", "product_type", productType, "country", addr.CountryCode, "options", len(options))
	}
	return options, nil
}

func (c *Client) productCost(ctx context.Context, items []lineItem, addr models.ShippingAddress) (int, string, error) {
	var resp costResponse
	err := c.post(ctx, "/print-job-cost-calculations/", map[string]any{
		"line_items": items,
		"shipping_address": costAddress{
			City:        addr.City,
			CountryCode: addr.CountryCode,
			PostCode:    addr.Zip,
			StateCode:   addr.State,
			Street1:     addr.Street1,
			PhoneNumber: addr.Phone,
		},
		"shipping_option": "MAIL",
	}, &resp)
	if err != nil {
		return 0, "", err
	}
	total := 0
	for _, item := range resp.LineItemCosts {
		cents, err := toCents(item.TotalCostExclTax)
		if err != nil {
			return 0, "", fmt.Errorf("parse product cost: %w", err)
		}
		total += cents
	}
	currency := resp.Currency
	if currency == "" {
		currency = "usd"
	}
	return total, strings.ToLower(currency), nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post lulu %s: %w", path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("lulu request failed", "status", resp.StatusCode, "path", path, "body", truncateBody(rawBody))
		}
		return &APIError{Status: resp.StatusCode, Path: path, Body: truncateBody(rawBody)}
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, truncateBody(rawBody))
	}
	return nil
}

// toCents converts a decimal money string such as "12.34" to minor units.
func toCents(amount string) (int, error) {
	if amount == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, err
	}
	return int(d.Shift(2).Round(0).IntPart()), nil
}

func levelLabel(level string) string {
	switch level {
	case "MAIL":
		return "Standard Mail"
	case "PRIORITY_MAIL":
		return "Priority Mail"
	case "GROUND_HD", "GROUND_BUS", "GROUND":
		return "Ground"
	case "EXPEDITED":
		return "Expedited"
	case "EXPRESS":
		return "Express"
	default:
		return strings.ReplaceAll(level, "_", " ")
	}
}

func parseDate(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return fallback
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

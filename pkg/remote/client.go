package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/declabill/declabill/pkg/telemetry"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.stripe.com"

const maxErrorBody = 1 << 16

// Config contains HTTP client configuration options.
type Config struct {
	// APIKey is the secret key sent as a bearer token.
	APIKey string

	// BaseURL is the API endpoint, DefaultBaseURL when empty.
	BaseURL string

	// APIVersion pins the provider's API version when set.
	APIVersion string

	// Timeout bounds one HTTP request. Defaults to 80s.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient overrides the underlying client, e.g. in tests.
	HTTPClient *http.Client
}

// HTTPClient implements API over the provider's form-encoded HTTPS API.
// It never retries; every failure is returned to the caller.
type HTTPClient struct {
	apiKey     string
	baseURL    *url.URL
	apiVersion string
	userAgent  string
	http       *http.Client
}

// NewHTTPClient creates a client from cfg.
func NewHTTPClient(cfg *Config) (*HTTPClient, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", base)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 80 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "declabill"
	}

	return &HTTPClient{
		apiKey:     cfg.APIKey,
		baseURL:    u,
		apiVersion: cfg.APIVersion,
		userAgent:  ua,
		http:       hc,
	}, nil
}

type call struct {
	resource       string
	method         string
	httpMethod     string
	path           string
	form           Form
	idempotencyKey string
}

func (c *HTTPClient) do(ctx context.Context, cl call, out interface{}) error {
	return telemetry.RecordRemoteOperation(ctx, cl.resource, cl.method, ErrorCode, func(ctx context.Context) error {
		return c.roundTrip(ctx, cl, out)
	})
}

func (c *HTTPClient) roundTrip(ctx context.Context, cl call, out interface{}) error {
	u := *c.baseURL
	u.Path += cl.path

	var body io.Reader
	encoded := ""
	if cl.form.Values != nil {
		encoded = cl.form.Encode()
	}
	if cl.httpMethod == http.MethodGet || cl.httpMethod == http.MethodDelete {
		u.RawQuery = encoded
	} else {
		body = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, cl.httpMethod, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.apiVersion != "" {
		req.Header.Set("Stripe-Version", c.apiVersion)
	}
	if cl.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", cl.idempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Ctx(ctx).Debug().
		Str("method", cl.httpMethod).
		Str("path", cl.path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Billing API call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", cl.resource, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope struct {
		Error *APIError `json:"error"`
	}
	apiErr := &APIError{}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
		apiErr = envelope.Error
	} else {
		apiErr.Type = ErrorTypeAPI
		apiErr.raw = true
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	apiErr.StatusCode = resp.StatusCode
	apiErr.RequestID = resp.Header.Get("Request-Id")
	return apiErr
}

func path(resource string, parts ...string) string {
	p := "/v1/" + resource
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func get[T any](ctx context.Context, c *HTTPClient, resource, id string, form Form) (*T, error) {
	var out T
	err := c.do(ctx, call{
		resource:   resource,
		method:     "retrieve",
		httpMethod: http.MethodGet,
		path:       path(resource, id),
		form:       form,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func list[T any](ctx context.Context, c *HTTPClient, resource string, form Form) ([]T, error) {
	var out listResponse[T]
	err := c.do(ctx, call{
		resource:   resource,
		method:     "list",
		httpMethod: http.MethodGet,
		path:       path(resource),
		form:       form,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func post[T any](ctx context.Context, c *HTTPClient, resource, method, p string, form Form, idempotencyKey string) (*T, error) {
	var out T
	err := c.do(ctx, call{
		resource:       resource,
		method:         method,
		httpMethod:     http.MethodPost,
		path:           p,
		form:           form,
		idempotencyKey: idempotencyKey,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCustomer implements API.
func (c *HTTPClient) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	cus, err := get[Customer](ctx, c, ResourceCustomers, id, NewForm())
	if err != nil {
		return nil, err
	}
	if cus.Deleted {
		return nil, notFound("customer", id)
	}
	return cus, nil
}

// ListCustomers implements API.
func (c *HTTPClient) ListCustomers(ctx context.Context, params *CustomerListParams) ([]Customer, error) {
	return list[Customer](ctx, c, ResourceCustomers, EncodeParams(params))
}

// CreateCustomer implements API.
func (c *HTTPClient) CreateCustomer(ctx context.Context, params *CustomerParams, idempotencyKey string) (*Customer, error) {
	return post[Customer](ctx, c, ResourceCustomers, "create", path(ResourceCustomers), EncodeParams(params), idempotencyKey)
}

// UpdateCustomer implements API.
func (c *HTTPClient) UpdateCustomer(ctx context.Context, id string, params *CustomerParams) (*Customer, error) {
	return post[Customer](ctx, c, ResourceCustomers, "update", path(ResourceCustomers, id), EncodeParams(params), "")
}

// GetProduct implements API.
func (c *HTTPClient) GetProduct(ctx context.Context, id string) (*Product, error) {
	form := NewForm()
	form.Expand("default_price")
	return get[Product](ctx, c, ResourceProducts, id, form)
}

// CreateProduct implements API.
func (c *HTTPClient) CreateProduct(ctx context.Context, params *ProductParams, idempotencyKey string) (*Product, error) {
	form := EncodeParams(params)
	form.Expand("default_price")
	return post[Product](ctx, c, ResourceProducts, "create", path(ResourceProducts), form, idempotencyKey)
}

// UpdateProduct implements API.
func (c *HTTPClient) UpdateProduct(ctx context.Context, id string, params *ProductParams) (*Product, error) {
	form := EncodeParams(params)
	form.Expand("default_price")
	return post[Product](ctx, c, ResourceProducts, "update", path(ResourceProducts, id), form, "")
}

// CreatePrice implements API.
func (c *HTTPClient) CreatePrice(ctx context.Context, params *PriceParams) (*Price, error) {
	return post[Price](ctx, c, ResourcePrices, "create", path(ResourcePrices), EncodeParams(params), "")
}

// CreateCoupon implements API.
func (c *HTTPClient) CreateCoupon(ctx context.Context, params *CouponParams, idempotencyKey string) (*Coupon, error) {
	return post[Coupon](ctx, c, ResourceCoupons, "create", path(ResourceCoupons), EncodeParams(params), idempotencyKey)
}

// GetInvoice implements API.
func (c *HTTPClient) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	return get[Invoice](ctx, c, ResourceInvoices, id, NewForm())
}

// ListInvoices implements API.
func (c *HTTPClient) ListInvoices(ctx context.Context, params *InvoiceListParams) ([]Invoice, error) {
	return list[Invoice](ctx, c, ResourceInvoices, EncodeParams(params))
}

// CreateInvoice implements API.
func (c *HTTPClient) CreateInvoice(ctx context.Context, params *InvoiceParams, idempotencyKey string) (*Invoice, error) {
	return post[Invoice](ctx, c, ResourceInvoices, "create", path(ResourceInvoices), EncodeParams(params), idempotencyKey)
}

// FinalizeInvoice implements API.
func (c *HTTPClient) FinalizeInvoice(ctx context.Context, id string, params *FinalizeParams) (*Invoice, error) {
	return post[Invoice](ctx, c, ResourceInvoices, "finalize", path(ResourceInvoices, id, "finalize"), EncodeParams(params), "")
}

// PayInvoice implements API.
func (c *HTTPClient) PayInvoice(ctx context.Context, id string) (*Invoice, error) {
	return post[Invoice](ctx, c, ResourceInvoices, "pay", path(ResourceInvoices, id, "pay"), NewForm(), "")
}

// VoidInvoice implements API.
func (c *HTTPClient) VoidInvoice(ctx context.Context, id string) (*Invoice, error) {
	return post[Invoice](ctx, c, ResourceInvoices, "void", path(ResourceInvoices, id, "void"), NewForm(), "")
}

// SendInvoice implements API.
func (c *HTTPClient) SendInvoice(ctx context.Context, id string) (*Invoice, error) {
	return post[Invoice](ctx, c, ResourceInvoices, "send", path(ResourceInvoices, id, "send"), NewForm(), "")
}

// GetInvoiceItem implements API.
func (c *HTTPClient) GetInvoiceItem(ctx context.Context, id string) (*InvoiceItem, error) {
	form := NewForm()
	form.Expand("price", "discounts")
	item, err := get[InvoiceItem](ctx, c, ResourceInvoiceItems, id, form)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, notFound("invoiceitem", id)
	}
	return item, nil
}

// ListInvoiceItems implements API.
func (c *HTTPClient) ListInvoiceItems(ctx context.Context, params *InvoiceItemListParams) ([]InvoiceItem, error) {
	form := EncodeParams(params)
	form.Expand("data.price", "data.discounts")
	return list[InvoiceItem](ctx, c, ResourceInvoiceItems, form)
}

// CreateInvoiceItem implements API.
func (c *HTTPClient) CreateInvoiceItem(ctx context.Context, params *InvoiceItemParams, idempotencyKey string) (*InvoiceItem, error) {
	form := EncodeParams(params)
	form.Expand("price", "discounts")
	return post[InvoiceItem](ctx, c, ResourceInvoiceItems, "create", path(ResourceInvoiceItems), form, idempotencyKey)
}

// UpdateInvoiceItem implements API.
func (c *HTTPClient) UpdateInvoiceItem(ctx context.Context, id string, params *InvoiceItemParams) (*InvoiceItem, error) {
	form := EncodeParams(params)
	form.Expand("price", "discounts")
	return post[InvoiceItem](ctx, c, ResourceInvoiceItems, "update", path(ResourceInvoiceItems, id), form, "")
}

// DeleteInvoiceItem implements API.
func (c *HTTPClient) DeleteInvoiceItem(ctx context.Context, id string) error {
	var out DeletedObject
	return c.do(ctx, call{
		resource:   ResourceInvoiceItems,
		method:     "delete",
		httpMethod: http.MethodDelete,
		path:       path(ResourceInvoiceItems, id),
	}, &out)
}

var _ API = (*HTTPClient)(nil)

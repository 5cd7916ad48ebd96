package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPGateway talks to a Stripe compatible checkout sessions API.
type HTTPGateway struct {
	BaseURL    string
	SecretKey  string
	SuccessURL string
	CancelURL  string
	Client     *http.Client
}

func NewHTTPGateway(baseURL, secretKey, successURL, cancelURL string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SecretKey:  secretKey,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type sessionResponse struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *HTTPGateway) CreateSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	md, err := req.Metadata.Encode()
	if err != nil {
		return Session{}, err
	}
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", g.SuccessURL)
	form.Set("cancel_url", g.CancelURL)
	form.Set("customer_email", req.Metadata.Customer.Email)
	i := 0
	addLine := func(name string, unit decimal.Decimal, qty int) {
		p := fmt.Sprintf("line_items[%d]", i)
		form.Set(p+"[price_data][currency]", currency)
		form.Set(p+"[price_data][unit_amount]", unit.Shift(2).Round(0).String())
		form.Set(p+"[price_data][product_data][name]", name)
		form.Set(p+"[quantity]", strconv.Itoa(qty))
		i++
	}
	for _, l := range req.Quote.Lines {
		addLine(l.ProductName, l.UnitPrice, l.Qty)
	}
	if req.Quote.DeliveryFee.IsPositive() {
		addLine("Delivery", req.Quote.DeliveryFee, 1)
	}
	for k, v := range md {
		form.Set("metadata["+k+"]", v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	var resp sessionResponse
	if err := g.do(httpReq, &resp); err != nil {
		return Session{}, fmt.Errorf("create checkout session: %w", err)
	}
	return Session{ID: resp.ID, URL: resp.URL}, nil
}

func (g *HTTPGateway) RetrieveConfirmation(ctx context.Context, token string) (Confirmation, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.BaseURL+"/v1/checkout/sessions/"+url.PathEscape(token), nil)
	if err != nil {
		return Confirmation{}, err
	}

	var resp sessionResponse
	if err := g.do(httpReq, &resp); err != nil {
		return Confirmation{}, fmt.Errorf("retrieve checkout session: %w", err)
	}
	md, err := DecodeMetadata(resp.Metadata)
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{
		SessionID: resp.ID,
		Paid:      resp.PaymentStatus == "paid",
		Status:    resp.PaymentStatus,
		Metadata:  md,
	}, nil
}

func (g *HTTPGateway) do(req *http.Request, out any) error {
	req.SetBasicAuth(g.SecretKey, "")
	res, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if res.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(body, &ae)
		return fmt.Errorf("gateway status %d: %s", res.StatusCode, ae.Error.Message)
	}
	return json.Unmarshal(body, out)
}

package payment

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

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type PreferenceRequest struct {
	ExternalReference string
	Title             string
	AmountCents       int64
	Currency          string
	ExpiresAt         time.Time
	NotificationURL   string
	PayerID           string
}

type Preference struct {
	ID          string
	CheckoutURL string
}

// Provider creates checkout preferences with the external payment provider.
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
}

var ErrProviderRejected = errors.New("payment provider rejected the request")

type HTTPProvider struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	tracer     trace.Tracer
}

func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "payment-provider",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// a 4xx is our fault, not the provider's health
				return err == nil || errors.Is(err, ErrProviderRejected)
			},
		}),
		tracer: otel.Tracer("payment-provider"),
	}
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceBody struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	ExpirationDateTo  string           `json:"expiration_date_to"`
	Expires           bool             `json:"expires"`
	PayerID           string           `json:"payer_id,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

func (p *HTTPProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	ctx, span := p.tracer.Start(ctx, "payment.create_preference",
		trace.WithAttributes(
			attribute.String("payment.external_reference", req.ExternalReference),
			attribute.Int64("payment.amount_cents", req.AmountCents),
		))
	defer span.End()

	body, err := json.Marshal(preferenceBody{
		Items: []preferenceItem{{
			Title:      req.Title,
			Quantity:   1,
			UnitPrice:  float64(req.AmountCents) / 100,
			CurrencyID: req.Currency,
		}},
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
		ExpirationDateTo:  req.ExpiresAt.UTC().Format(time.RFC3339),
		Expires:           true,
		PayerID:           req.PayerID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal preference: %w", err)
	}

	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.post(ctx, "/checkout/preferences", body)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp := out.(*preferenceResponse)
	span.SetAttributes(attribute.String("payment.preference_id", resp.ID))
	return &Preference{ID: resp.ID, CheckoutURL: resp.InitPoint}, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body []byte) (*preferenceResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}

	var out preferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode preference: %w", err)
	}
	if out.ID == "" {
		return nil, errors.New("payment provider returned an empty preference id")
	}
	return &out, nil
}

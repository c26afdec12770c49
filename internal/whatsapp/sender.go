// Package whatsapp sends notifications through a Whapi-compatible
// WhatsApp gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kavanga/importdesk/internal/domain"
	"github.com/kavanga/importdesk/internal/queue"
)

const (
	defaultBaseURL   = "https://gate.whapi.cloud"
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5.0 // messages per second
)

// Config holds WhatsApp sender configuration.
type Config struct {
	Token       string
	BaseURL     string
	CountryCode string  // default international prefix for local numbers
	Timeout     time.Duration
	RateLimit   float64 // messages per second, 0 uses the default
}

// Sender delivers notifications over the gateway's HTTP API. All calls go
// through a circuit breaker so a dead gateway fails fast instead of tying
// up workers, and a rate limiter keeps sends under the account quota.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// NewSender creates a new WhatsApp sender.
// Returns error if required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Token == "" {
		return nil, errors.New("whatsapp sender: API token is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.CountryCode == "" {
		config.CountryCode = defaultCountryCode
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "whapi",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("whatsapp circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	slog.Info("whatsapp sender configured",
		"base_url", config.BaseURL,
		"country_code", config.CountryCode,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:    breaker,
	}, nil
}

type textMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type gatewayResponse struct {
	Sent    bool `json:"sent"`
	Message *struct {
		ID string `json:"id"`
	} `json:"message"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send renders the notification and posts it to the gateway as a text
// message. The returned result carries the gateway-assigned message id
// used later to match delivery receipts.
func (s *Sender) Send(ctx context.Context, phone string, kind domain.NotificationKind, payload domain.NotificationPayload) (*queue.SendResult, error) {
	recipient, err := FormatRecipient(phone, s.config.CountryCode)
	if err != nil {
		return nil, &queue.TransportError{
			Code:      "INVALID_RECIPIENT",
			Message:   err.Error(),
			Retryable: false,
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(textMessage{
		To:   recipient,
		Body: RenderMessage(kind, payload),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/messages/text", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.breaker.Execute(func() (*http.Response, error) {
		r, doErr := s.httpClient.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 5xx trips the breaker; 4xx is the caller's problem.
		if r.StatusCode >= 500 {
			return r, fmt.Errorf("gateway returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &queue.TransportError{
				Code:      "CIRCUIT_OPEN",
				Message:   "gateway circuit breaker is open",
				Retryable: true,
			}
		}
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			raw, _ := io.ReadAll(resp.Body)
			return nil, &queue.TransportError{
				Code:      fmt.Sprintf("HTTP_%d", resp.StatusCode),
				Message:   fmt.Sprintf("gateway server error: %s", string(raw)),
				Retryable: true,
				Raw:       raw,
			}
		}
		return nil, &queue.TransportError{
			Code:      "CONNECTION",
			Message:   fmt.Sprintf("send request: %v", err),
			Retryable: true,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

func (s *Sender) handleResponse(resp *http.Response) (*queue.SendResult, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, &queue.TransportError{
			Code:      "BAD_RESPONSE",
			Message:   "gateway returned unparseable body",
			Retryable: true,
			Raw:       raw,
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK && parsed.Sent:
		result := &queue.SendResult{Raw: raw}
		if parsed.Message != nil {
			result.MessageID = parsed.Message.ID
		}
		return result, nil

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &queue.TransportError{
			Code:      fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:   "invalid or expired gateway token",
			Retryable: false,
			Raw:       raw,
		}

	case resp.StatusCode == http.StatusBadRequest:
		return nil, &queue.TransportError{
			Code:      "HTTP_400",
			Message:   gatewayError(parsed, "bad request"),
			Retryable: false,
			Raw:       raw,
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &queue.TransportError{
			Code:      "HTTP_429",
			Message:   "gateway rate limit exceeded",
			Retryable: true,
			Raw:       raw,
		}

	default:
		// Includes 200 with sent=false, which the gateway uses for
		// recipients without a WhatsApp account.
		return nil, &queue.TransportError{
			Code:      fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:   gatewayError(parsed, "message not sent"),
			Retryable: resp.StatusCode >= 500,
			Raw:       raw,
		}
	}
}

func gatewayError(parsed gatewayResponse, fallback string) string {
	if parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return fallback
}

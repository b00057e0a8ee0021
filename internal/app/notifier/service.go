package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookingcal/project/internal/contracts"
	"github.com/bookingcal/project/internal/platform/metrics"
	"github.com/bookingcal/project/internal/platform/natsutil"
)

var (
	ErrInvalidPayload     = errors.New("invalid booking notification payload")
	ErrWebhookRejected    = errors.New("webhook rejected notification")
	ErrWebhookUnavailable = errors.New("webhook unavailable")
	ErrWebhookMissing     = errors.New("notify webhook url is not configured")
	ErrWebhookInvalid     = errors.New("notify webhook url is invalid")
)

// ValidateWebhookURL accepts absolute http and https URLs.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookInvalid, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrWebhookInvalid, raw)
	}
	return nil
}

var deliveries = metrics.NewCounterVec("notifier_deliveries_total",
	"Booking notification deliveries by outcome.", "outcome")

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service posts booking-deleted notifications to a webhook.
type Service struct {
	Client     Doer
	WebhookURL string
}

func NewService(webhookURL string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		Client:     &http.Client{Timeout: timeout},
		WebhookURL: strings.TrimSpace(webhookURL),
	}
}

// Handle delivers one payload. Messages without SendNotification are
// acknowledged without a webhook call.
func (s *Service) Handle(ctx context.Context, payload []byte) error {
	var msg contracts.BookingDeleted
	if err := json.Unmarshal(payload, &msg); err != nil || strings.TrimSpace(msg.BookingID) == "" {
		return ErrInvalidPayload
	}
	if !msg.SendNotification {
		return nil
	}
	if s.WebhookURL == "" {
		return ErrWebhookMissing
	}
	if err := ValidateWebhookURL(s.WebhookURL); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookInvalid, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.NotificationID)

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrWebhookRejected, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrWebhookUnavailable, resp.StatusCode)
	}
}

// Disposition maps a Handle result to a message settlement. Rejections and an
// unusable webhook URL are terminal; everything else is retried with backoff.
func Disposition(err error) natsutil.Disposition {
	switch {
	case err == nil:
		return natsutil.Ack
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrWebhookRejected), errors.Is(err, ErrWebhookInvalid):
		return natsutil.Term
	default:
		return natsutil.Nak
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "delivered"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid"
	case errors.Is(err, ErrWebhookRejected), errors.Is(err, ErrWebhookInvalid):
		return "rejected"
	default:
		return "retry"
	}
}

// Consume adapts Handle to the queue consumer, logging failures.
func (s *Service) Consume(ctx context.Context, payload []byte) natsutil.Disposition {
	err := s.Handle(ctx, payload)
	deliveries.Inc(outcome(err))
	d := Disposition(err)
	if err != nil {
		log.Printf("booking notification %s: %v", d, err)
	}
	return d
}

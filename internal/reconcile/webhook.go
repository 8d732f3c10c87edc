// Package reconcile resolves purchases whose synchronous provider response
// was not terminal. The provider pushes updates through the webhook, and the
// sweep pulls them by requery. Both end in the same finalize rule.
package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"prepaid/internal/metrics"
	"prepaid/internal/provider"
	"prepaid/internal/services"

	"go.uber.org/zap"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrMissingReference = errors.New("webhook missing reference")
)

type Finalizer interface {
	Finalize(ctx context.Context, reference string, d services.Decision) (services.Settlement, error)
}

type WebhookProcessor struct {
	secret    []byte
	finalizer Finalizer
	logger    *zap.Logger
}

func NewWebhookProcessor(secret string, finalizer Finalizer, logger *zap.Logger) *WebhookProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secret == "" {
		logger.Warn("webhook secret not configured, signatures will not be verified")
	}
	return &WebhookProcessor{secret: []byte(secret), finalizer: finalizer, logger: logger}
}

type webhookPayload struct {
	RequestID      string `json:"request_id"`
	RequestIDCamel string `json:"requestId"`
	Reference      string `json:"reference"`
	Status         string `json:"status"`
	Token          any    `json:"token"`
	PurchasedCode  any    `json:"purchased_code"`
}

type WebhookResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Changed   bool   `json:"changed"`
	Refunded  bool   `json:"refunded"`
}

// Verify checks the hex HMAC-SHA512 of the raw body. With no secret
// configured every body passes.
func (p *WebhookProcessor) Verify(body []byte, signature string) error {
	if len(p.secret) == 0 {
		return nil
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, p.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

func (p *WebhookProcessor) Process(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if err := p.Verify(body, signature); err != nil {
		metrics.WebhooksTotal.WithLabelValues("bad_signature").Inc()
		p.logger.Warn("webhook rejected", zap.Error(err))
		return WebhookResult{}, err
	}
	if len(p.secret) == 0 {
		p.logger.Warn("processing webhook without signature verification")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return WebhookResult{}, ErrMalformedPayload
	}
	reference := strings.TrimSpace(firstNonEmpty(payload.RequestID, payload.RequestIDCamel, payload.Reference))
	if reference == "" {
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return WebhookResult{}, ErrMissingReference
	}

	status := strings.ToLower(strings.TrimSpace(payload.Status))
	outcome := provider.StatusOutcome(status)
	decision := services.Decision{
		Outcome:        outcome,
		ProviderStatus: status,
		Raw:            json.RawMessage(body),
		Source:         services.SourceWebhook,
	}
	if outcome == provider.OutcomeCompleted {
		decision.Token = provider.CleanToken(firstNonEmpty(scalar(payload.Token), scalar(payload.PurchasedCode)))
	}

	settled, err := p.finalizer.Finalize(ctx, reference, decision)
	if err != nil {
		if errors.Is(err, services.ErrRecordNotFound) {
			metrics.WebhooksTotal.WithLabelValues("not_found").Inc()
			p.logger.Warn("webhook for unknown reference", zap.String("reference", reference))
		} else {
			metrics.WebhooksTotal.WithLabelValues("error").Inc()
		}
		return WebhookResult{Reference: reference}, err
	}
	result := "applied"
	if !settled.Changed {
		result = "noop"
	}
	metrics.WebhooksTotal.WithLabelValues(result).Inc()
	p.logger.Info("webhook processed",
		zap.String("reference", reference),
		zap.String("provider_status", status),
		zap.String("status", settled.Record.Status),
		zap.Bool("changed", settled.Changed))
	return WebhookResult{
		Reference: reference,
		Status:    settled.Record.Status,
		Changed:   settled.Changed,
		Refunded:  settled.Refunded,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, _ := json.Marshal(v)
		return strings.Trim(string(encoded), `"`)
	}
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"prepaid/internal/config"
	"prepaid/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

type PurchaseRequest struct {
	ServiceID     string
	Reference     string
	Amount        decimal.Decimal
	Phone         string
	BillersCode   string
	VariationCode string
}

// Gateway talks to the fulfillment provider over one pooled transport.
// Every call carries a dial timeout, a response-header timeout and an overall
// deadline of connect plus read timeout that also covers the body.
type Gateway struct {
	baseURL     string
	apiKey      string
	secretKey   string
	publicKey   string
	client      *http.Client
	callTimeout time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewGateway(cfg config.ProviderConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
	}
	limit := rate.Inf
	if cfg.RequeryRPS > 0 {
		limit = rate.Limit(cfg.RequeryRPS)
	}
	burst := cfg.RequeryBurst
	if burst <= 0 {
		burst = 1
	}
	var callTimeout time.Duration
	if cfg.ReadTimeout > 0 {
		callTimeout = cfg.ConnectTimeout + cfg.ReadTimeout
	}
	return &Gateway{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		secretKey:   cfg.SecretKey,
		publicKey:   cfg.PublicKey,
		client:      &http.Client{Transport: transport},
		callTimeout: callTimeout,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}
}

func (g *Gateway) Purchase(ctx context.Context, req PurchaseRequest) (Result, error) {
	payload := map[string]string{
		"request_id": req.Reference,
		"serviceID":  req.ServiceID,
		"amount":     req.Amount.StringFixed(2),
	}
	if req.Phone != "" {
		payload["phone"] = req.Phone
	}
	if req.BillersCode != "" {
		payload["billersCode"] = req.BillersCode
	}
	if req.VariationCode != "" {
		payload["variation_code"] = req.VariationCode
	}
	status, body, err := g.post(ctx, "pay", payload, g.secretHeaders())
	if err != nil {
		return Result{}, err
	}
	res, _, err := normalize(body)
	if err != nil {
		return Result{}, &Error{Op: "pay", Message: fmt.Sprintf("invalid response (HTTP %d): %v", status, err), Raw: body}
	}
	return res, nil
}

// VerifyTarget checks an electricity meter before any money moves.
func (g *Gateway) VerifyTarget(ctx context.Context, serviceID, target, subtype string) (Result, error) {
	_, body, err := g.post(ctx, "merchant-verify", map[string]string{
		"billersCode": target,
		"serviceID":   serviceID,
		"type":        subtype,
	}, g.secretHeaders())
	if err != nil {
		return Result{}, err
	}
	res, _, err := normalize(body)
	if err != nil {
		return Result{}, &Error{Op: "merchant-verify", Message: err.Error(), Raw: body}
	}
	return res, nil
}

// Requery asks the provider for the current state of a reference. A 404 is
// ErrNotFound: the provider never saw the purchase.
func (g *Gateway) Requery(ctx context.Context, reference string) (Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	status, body, err := g.post(ctx, "requery", map[string]string{"request_id": reference}, map[string]string{
		"api-key":    g.apiKey,
		"public-key": g.publicKey,
	})
	if err != nil {
		return Result{}, err
	}
	if status == http.StatusNotFound {
		return Result{}, ErrNotFound
	}
	if status >= http.StatusBadRequest {
		return Result{}, &Error{Op: "requery", Message: fmt.Sprintf("HTTP %d", status), Raw: body}
	}
	res, hasTransactions, err := normalize(body)
	if err != nil {
		return Result{}, &Error{Op: "requery", Message: err.Error(), Raw: body}
	}
	if res.Shape != ShapeObject || !hasTransactions {
		return Result{}, &Error{Op: "requery", Message: "response missing content.transactions", Raw: body}
	}
	return res, nil
}

func (g *Gateway) secretHeaders() map[string]string {
	return map[string]string{
		"api-key":    g.apiKey,
		"secret-key": g.secretKey,
	}
}

func (g *Gateway) post(ctx context.Context, path string, payload any, headers map[string]string) (int, []byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/"+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.ProviderLatency.WithLabelValues(path, "transport_error").Observe(time.Since(started).Seconds())
		g.logger.Warn("provider request failed", zap.String("operation", path), zap.Error(err))
		return 0, nil, &Error{Op: path, Message: err.Error(), Timeout: isTimeout(ctx, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.ProviderLatency.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Observe(time.Since(started).Seconds())
	if err != nil {
		g.logger.Warn("provider response body read failed", zap.String("operation", path), zap.Error(err))
		return resp.StatusCode, nil, &Error{Op: path, Message: err.Error(), Timeout: isTimeout(ctx, err)}
	}
	g.logger.Debug("provider response",
		zap.String("operation", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)))
	return resp.StatusCode, body, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

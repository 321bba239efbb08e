// internal/push/gateway.go
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"push-dispatcher/internal/common/config"
	apperrors "push-dispatcher/internal/common/errors"
	apphttp "push-dispatcher/internal/common/http"
	"push-dispatcher/internal/common/logger"
	"push-dispatcher/internal/common/metrics"
	"push-dispatcher/internal/common/validation"
)

const (
	TicketOK    = "ok"
	TicketError = "error"

	unknownTicketError = "unknown error"
	maxResponseBytes   = 4 << 20
	defaultTimeout     = 10 * time.Second
)

var ticketResponseSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["status"],
				"properties": {
					"status":  {"type": "string"},
					"message": {"type": ["string", "null"]},
					"details": {"type": ["object", "null"]}
				}
			}
		}
	}
}`)

// ticketLabel bounds the status label to known values; the gateway may
// send anything.
func ticketLabel(status string) string {
	switch status {
	case TicketOK, TicketError:
		return status
	}
	return "other"
}

type ticket struct {
	Status  string                 `json:"status"`
	Message *string                `json:"message"`
	Details map[string]interface{} `json:"details"`
}

type ticketResponse struct {
	Data []ticket `json:"data"`
}

// DeliveryResult summarizes one batch. Errors holds the messages of the
// error tickets only; transport failures show up as zero successes.
type DeliveryResult struct {
	SuccessCount int      `json:"successCount"`
	Errors       []string `json:"errors"`
}

// Sender delivers a batch of messages.
type Sender interface {
	Send(ctx context.Context, msgs []Message) DeliveryResult
}

// GatewayClient posts message batches to the push gateway.
type GatewayClient struct {
	url         string
	accessToken string
	client      *apphttp.Client
	limiter     *rate.Limiter
	logger      logger.Logger
}

func NewGatewayClient(cfg config.GatewayConfig, log logger.Logger) *GatewayClient {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	timeout := config.GetDuration(cfg.Timeout)
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &GatewayClient{
		url:         cfg.URL,
		accessToken: cfg.AccessToken,
		client:      apphttp.NewClient(timeout),
		limiter:     rate.NewLimiter(limit, burst),
		logger:      log.WithFields(map[string]interface{}{"component": "push-gateway"}),
	}
}

// Send makes exactly one gateway call for a non-empty batch and never returns
// an error: anything that prevents reading tickets counts as zero successes.
func (c *GatewayClient) Send(ctx context.Context, msgs []Message) DeliveryResult {
	if len(msgs) == 0 {
		return DeliveryResult{}
	}

	tickets, err := c.post(ctx, msgs)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("error").Inc()
		c.logger.Error("push gateway delivery failed", map[string]interface{}{
			"error":    apperrors.NewDeliveryError(err),
			"messages": len(msgs),
		})
		return DeliveryResult{}
	}
	metrics.GatewayRequests.WithLabelValues("ok").Inc()

	var result DeliveryResult
	for i, t := range tickets {
		metrics.GatewayTickets.WithLabelValues(ticketLabel(t.Status)).Inc()
		switch t.Status {
		case TicketOK:
			result.SuccessCount++
		case TicketError:
			msg := unknownTicketError
			if t.Message != nil && *t.Message != "" {
				msg = *t.Message
			}
			result.Errors = append(result.Errors, msg)

			fields := map[string]interface{}{"message": msg, "details": t.Details}
			if i < len(msgs) {
				fields["to"] = msgs[i].To
			}
			c.logger.Debug("push ticket rejected", fields)
		}
	}
	return result
}

func (c *GatewayClient) post(ctx context.Context, msgs []Message) ([]ticket, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.client.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway status %d: %s", resp.StatusCode, apperrors.Truncate(string(raw), 512))
	}

	if err := ticketResponseSchema.Validate(raw).Err(); err != nil {
		return nil, err
	}

	var parsed ticketResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Data, nil
}

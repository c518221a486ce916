// Package webhook delivers accepted stat mutations to per-game
// integration endpoints.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gamestats-service/internal/config"
	"github.com/gamestats-service/internal/domain"
	"github.com/gamestats-service/internal/errtrack"
	"github.com/go-resty/resty/v2"
)

// EndpointStore lists a game's registered endpoints
type EndpointStore interface {
	ListWebhookEndpoints(ctx context.Context, gameID string) ([]domain.WebhookEndpoint, error)
}

// payload is the body POSTed to each endpoint
type payload struct {
	Event    string                        `json:"event"`
	Snapshot domain.PlayerGameStatSnapshot `json:"snapshot"`
	SentAt   time.Time                     `json:"sent_at"`
}

// Dispatcher POSTs each accepted mutation to the owning game's
// endpoints. Delivery is best-effort: failures are reported, never
// retried beyond the client's retry budget, and never block a mutation.
type Dispatcher struct {
	client   *resty.Client
	store    EndpointStore
	reporter errtrack.Reporter
	logger   *slog.Logger
}

// NewDispatcher creates a webhook dispatcher
func NewDispatcher(cfg *config.WebhookConfig, store EndpointStore, reporter errtrack.Reporter, logger *slog.Logger) *Dispatcher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("User-Agent", "gamestats-webhook/1.0")

	return &Dispatcher{
		client:   client,
		store:    store,
		reporter: reporter,
		logger:   logger,
	}
}

// StatUpdated delivers the snapshot to every endpoint of its game
func (d *Dispatcher) StatUpdated(ctx context.Context, snapshot domain.PlayerGameStatSnapshot) {
	endpoints, err := d.store.ListWebhookEndpoints(ctx, snapshot.GameID)
	if err != nil {
		d.reporter.Report(ctx, fmt.Errorf("listing webhook endpoints: %w", err))
		return
	}
	if len(endpoints) == 0 {
		return
	}

	body := payload{
		Event:    "stat.updated",
		Snapshot: snapshot,
		SentAt:   time.Now(),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		d.reporter.Report(ctx, fmt.Errorf("encoding webhook payload: %w", err))
		return
	}

	for _, endpoint := range endpoints {
		res, err := d.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Signature", sign(endpoint.Secret, raw)).
			SetBody(raw).
			Post(endpoint.URL)
		if err != nil {
			d.reporter.Report(ctx, fmt.Errorf("delivering webhook to %s: %w", endpoint.URL, err))
			continue
		}
		if res.IsError() {
			d.reporter.Report(ctx, fmt.Errorf("webhook %s responded %d", endpoint.URL, res.StatusCode()))
			continue
		}
		d.logger.Debug("delivered webhook",
			"url", endpoint.URL,
			"game_id", snapshot.GameID,
			"stat_name", snapshot.StatName,
		)
	}
}

// sign computes the hex HMAC-SHA256 of the payload under the endpoint's
// shared secret
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

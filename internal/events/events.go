// Package events publishes wallet update notifications for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event kinds.
const (
	KindBootstrap = "bootstrap"
	KindUpdate    = "update"
)

// DefaultSubject is the NATS subject wallet updates are published to.
const DefaultSubject = "rewards.wallets.updated"

// WalletsUpdated reports that reward totals changed for a distributor.
type WalletsUpdated struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Distributor   string   `json:"distributor"`
	LastSignature string   `json:"last_signature"`
	Transfers     int      `json:"transfers"`
	Wallets       []string `json:"wallets,omitempty"` // empty after a bootstrap
	Timestamp     int64    `json:"timestamp"`
}

// Publisher delivers WalletsUpdated events.
type Publisher interface {
	PublishWalletsUpdated(ctx context.Context, ev *WalletsUpdated) error
	Close()
}

// NewWalletsUpdated fills in the ID and timestamp of a new event.
func NewWalletsUpdated(kind, distributor, lastSignature string, transfers int, wallets []string) *WalletsUpdated {
	return &WalletsUpdated{
		ID:            uuid.NewString(),
		Kind:          kind,
		Distributor:   distributor,
		LastSignature: lastSignature,
		Transfers:     transfers,
		Wallets:       wallets,
		Timestamp:     time.Now().Unix(),
	}
}

// NATSPublisher publishes events as JSON on one subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to NATS with unlimited reconnects.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		url = nats.DefaultURL
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("rewards-indexer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

// PublishWalletsUpdated publishes ev. Delivery is at most once.
func (p *NATSPublisher) PublishWalletsUpdated(_ context.Context, ev *WalletsUpdated) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain failed", "error", err)
		p.conn.Close()
	}
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) PublishWalletsUpdated(context.Context, *WalletsUpdated) error { return nil }

func (NopPublisher) Close() {}

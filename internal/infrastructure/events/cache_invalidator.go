package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// DefaultChannel is the notification channel written by the change triggers
const DefaultChannel = "analytics_changes"

// Invalidator drops cached analytics. The coordinator implements it.
type Invalidator interface {
	InvalidateCache(ctx context.Context, domain analytics.Domain, ids []string) (int64, error)
}

// Conn is the part of a dedicated database connection the listener needs.
// *pgx.Conn satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens the dedicated listening connection
type Dialer func(ctx context.Context) (Conn, error)

// ChangeEvent is the payload of one change notification
type ChangeEvent struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// InvalidationRule maps a changed table onto the cached domain it feeds
type InvalidationRule struct {
	Domain analytics.Domain
	// ByEntity narrows invalidation to the changed row's id. Without it the
	// whole domain is dropped.
	ByEntity bool
}

// CacheInvalidator listens for row changes and drops the cached aggregates they affect
type CacheInvalidator struct {
	dial         Dialer
	invalidator  Invalidator
	channel      string
	logger       *zap.Logger
	retryBackoff time.Duration

	mu    sync.RWMutex
	rules map[string][]InvalidationRule
}

// NewCacheInvalidator creates an invalidator with the default table rules
func NewCacheInvalidator(dial Dialer, invalidator Invalidator, channel string, logger *zap.Logger) *CacheInvalidator {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ci := &CacheInvalidator{
		dial:         dial,
		invalidator:  invalidator,
		channel:      channel,
		logger:       logger,
		retryBackoff: 5 * time.Second,
		rules:        make(map[string][]InvalidationRule),
	}
	ci.registerDefaultRules()
	return ci
}

// RegisterInvalidationRule adds a rule for a table
func (ci *CacheInvalidator) RegisterInvalidationRule(table string, rule InvalidationRule) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	ci.rules[table] = append(ci.rules[table], rule)

	ci.logger.Debug("registered cache invalidation rule",
		zap.String("table", table),
		zap.String("domain", string(rule.Domain)),
		zap.Bool("by_entity", rule.ByEntity))
}

func (ci *CacheInvalidator) registerDefaultRules() {
	ci.RegisterInvalidationRule("campaign_daily_stats", InvalidationRule{Domain: analytics.DomainCampaigns, ByEntity: true})
	ci.RegisterInvalidationRule("campaigns", InvalidationRule{Domain: analytics.DomainCampaigns, ByEntity: true})

	ci.RegisterInvalidationRule("domain_daily_stats", InvalidationRule{Domain: analytics.DomainDomains, ByEntity: true})
	ci.RegisterInvalidationRule("sending_domains", InvalidationRule{Domain: analytics.DomainDomains, ByEntity: true})

	ci.RegisterInvalidationRule("mailbox_daily_stats", InvalidationRule{Domain: analytics.DomainMailboxes, ByEntity: true})
	ci.RegisterInvalidationRule("mailboxes", InvalidationRule{Domain: analytics.DomainMailboxes, ByEntity: true})

	// Billing results are keyed by company, not entity. Emails sent come from
	// the campaign counters.
	ci.RegisterInvalidationRule("billing_accounts", InvalidationRule{Domain: analytics.DomainBilling})
	ci.RegisterInvalidationRule("billing_charges", InvalidationRule{Domain: analytics.DomainBilling})
	ci.RegisterInvalidationRule("campaign_daily_stats", InvalidationRule{Domain: analytics.DomainBilling})
}

// HandlePayload applies the rules for one notification payload and returns the
// number of cache entries deleted
func (ci *CacheInvalidator) HandlePayload(ctx context.Context, payload string) (int64, error) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return 0, fmt.Errorf("malformed change notification: %w", err)
	}

	ci.mu.RLock()
	rules := ci.rules[event.Table]
	ci.mu.RUnlock()

	if len(rules) == 0 {
		ci.logger.Debug("no invalidation rule for table", zap.String("table", event.Table))
		return 0, nil
	}

	var total int64
	for _, rule := range rules {
		var ids []string
		if rule.ByEntity && event.ID != "" {
			ids = []string{event.ID}
		}
		deleted, err := ci.invalidator.InvalidateCache(ctx, rule.Domain, ids)
		if err != nil {
			// Keep applying the remaining rules
			ci.logger.Error("failed to apply cache invalidation rule",
				zap.String("table", event.Table),
				zap.String("domain", string(rule.Domain)),
				zap.Error(err))
			continue
		}
		total += deleted
	}
	return total, nil
}

// Run listens until ctx is done, reconnecting after connection failures
func (ci *CacheInvalidator) Run(ctx context.Context) {
	ci.logger.Info("cache invalidation listener started", zap.String("channel", ci.channel))
	for {
		err := ci.listen(ctx)
		if ctx.Err() != nil {
			ci.logger.Info("cache invalidation listener stopped")
			return
		}
		ci.logger.Warn("cache invalidation listener disconnected",
			zap.Error(err),
			zap.Duration("retry_in", ci.retryBackoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(ci.retryBackoff):
		}
	}
}

func (ci *CacheInvalidator) listen(ctx context.Context) error {
	conn, err := ci.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ci.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ci.channel, err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Channel != ci.channel {
			continue
		}

		deleted, err := ci.HandlePayload(ctx, n.Payload)
		if err != nil {
			ci.logger.Warn("ignoring change notification", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		if deleted > 0 {
			ci.logger.Debug("cache entries invalidated by change",
				zap.String("payload", n.Payload),
				zap.Int64("deleted", deleted))
		}
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/delivery"
)

const deliveryColumns = `idempotency_key, COALESCE(campaign_id,''), COALESCE(subscriber_id,''),
	COALESCE(automation_id,''), recipient, subject, status, COALESCE(message_id,''),
	COALESCE(error,''), attempts, created_at`

// DeliveryLog implements delivery.Log. The idempotency key is the primary
// key, so concurrent workers racing on one key converge on a single row.
type DeliveryLog struct{ db *sql.DB }

// NewDeliveryLog creates a Postgres-backed delivery log.
func NewDeliveryLog(db *sql.DB) *DeliveryLog { return &DeliveryLog{db: db} }

func scanDelivery(row scanner) (*domain.DeliveryLogEntry, error) {
	e := &domain.DeliveryLogEntry{}
	err := row.Scan(&e.IdempotencyKey, &e.CampaignID, &e.SubscriberID, &e.AutomationID,
		&e.Recipient, &e.Subject, &e.Status, &e.MessageID, &e.Error, &e.Attempts, &e.CreatedAt)
	return e, err
}

func (l *DeliveryLog) FindByIdempotencyKey(ctx context.Context, key string) (*domain.DeliveryLogEntry, error) {
	e, err := scanDelivery(l.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_log WHERE idempotency_key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find delivery: %w", err)
	}
	return e, nil
}

// Create inserts the entry. When another writer won the key, the stored row
// is read back and returned with created=false.
func (l *DeliveryLog) Create(ctx context.Context, entry *domain.DeliveryLogEntry) (*domain.DeliveryLogEntry, bool, error) {
	e, err := scanDelivery(l.db.QueryRowContext(ctx, `
		INSERT INTO delivery_log (idempotency_key, campaign_id, subscriber_id, automation_id,
			recipient, subject, status, message_id, error, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+deliveryColumns,
		entry.IdempotencyKey, nullable(entry.CampaignID), nullable(entry.SubscriberID), nullable(entry.AutomationID),
		entry.Recipient, entry.Subject, entry.Status, nullable(entry.MessageID), nullable(entry.Error),
		entry.Attempts, entry.CreatedAt))
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create delivery: %w", err)
	}
	existing, err := l.FindByIdempotencyKey(ctx, entry.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/pkg/metrics"
	"mailtriage/pkg/mq"
)

// TriageEventRepository records consumed email.triaged events for
// downstream reporting. Written by the worker, not the server.
type TriageEventRepository struct {
	db *pgxpool.Pool
}

func NewTriageEventRepository(db *pgxpool.Pool) *TriageEventRepository {
	return &TriageEventRepository{db: db}
}

func (r *TriageEventRepository) Insert(ctx context.Context, p *mq.EmailTriagedPayload) error {
	start := time.Now()

	query := `
        INSERT INTO triage_events (message_id, sender, subject, status, priority, distance, notification, triaged_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
    `
	_, err := r.db.Exec(ctx, query,
		p.MessageID,
		p.Sender,
		p.Subject,
		p.Status,
		p.Priority,
		p.Distance,
		p.Notification,
		p.TriagedAt,
	)
	if err != nil {
		return fmt.Errorf("insert triage_events: %w", err)
	}

	metrics.RecordDBQueryDuration("insert", "triage_events", time.Since(start))
	return nil
}

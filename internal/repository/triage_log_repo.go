package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
)

// TriageLogRepository is the append-only audit log: one row per
// successfully replied email.
type TriageLogRepository struct {
	db *pgxpool.Pool
}

func NewTriageLogRepository(db *pgxpool.Pool) *TriageLogRepository {
	return &TriageLogRepository{db: db}
}

func (r *TriageLogRepository) Insert(ctx context.Context, rec *model.AuditRecord) error {
	start := time.Now()

	meta, err := json.Marshal(rec.TemplateMetadata)
	if err != nil {
		return fmt.Errorf("encode template metadata: %w", err)
	}

	query := `
        INSERT INTO triage_log (sender, subject, body, embedding, template_metadata, distance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
    `
	_, err = r.db.Exec(ctx, query,
		rec.Sender,
		rec.Subject,
		rec.Body,
		pgvector.NewVector(rec.Embedding),
		meta,
		rec.Distance,
	)
	if err != nil {
		return fmt.Errorf("insert triage_log: %w", err)
	}

	metrics.RecordDBQueryDuration("insert", "triage_log", time.Since(start))
	return nil
}

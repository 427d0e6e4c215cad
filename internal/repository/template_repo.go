package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
)

// ErrStoreUnavailable wraps every failure of the template/vector store.
var ErrStoreUnavailable = errors.New("template store unavailable")

// TemplateRepository answers nearest-neighbor queries over the
// email_templates table. Templates are written offline by the bulk
// loader; at runtime this is read-only.
type TemplateRepository struct {
	db *pgxpool.Pool
}

func NewTemplateRepository(db *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Nearest returns ALL templates ordered by ascending cosine distance to
// the query vector. The full ranking is needed for the fallback lookup,
// not just the best hit. An empty result is valid.
func (r *TemplateRepository) Nearest(ctx context.Context, vec []float32) ([]model.TemplateMatch, error) {
	start := time.Now()

	query := `
        SELECT id, content, metadata, embedding <=> $1 AS distance
        FROM email_templates
        ORDER BY embedding <=> $1
    `
	rows, err := r.db.Query(ctx, query, pgvector.NewVector(vec))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var matches []model.TemplateMatch
	for rows.Next() {
		var (
			t        model.Template
			rawMeta  []byte
			distance float64
		)
		if err := rows.Scan(&t.ID, &t.Content, &rawMeta, &distance); err != nil {
			return nil, fmt.Errorf("%w: scan template row: %v", ErrStoreUnavailable, err)
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &t.Metadata); err != nil {
				return nil, fmt.Errorf("decode template %d metadata: %w", t.ID, err)
			}
		}
		matches = append(matches, model.TemplateMatch{
			Template:   t,
			Distance:   distance,
			Similarity: 1 - distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	metrics.RecordDBQueryDuration("nearest", "email_templates", time.Since(start))
	return matches, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tokengen/tokengen-bot/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Append writes one audit row per successful issuance. Rows are never
// updated or deleted.
func (r *GenerationRepository) Append(ctx context.Context, rec *models.GenerationRecord) error {
	const query = `
INSERT INTO token_generations (account_id, kind, charged_credits, funding, token_preview)
VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, rec.AccountID, rec.Kind, rec.ChargedCredits, rec.Funding, rec.TokenPreview)
	if err != nil {
		return fmt.Errorf("insert generation record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

func (r *GenerationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_generations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count generations: %w", err)
	}
	return count, nil
}

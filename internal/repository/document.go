package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// ErrNotFound is returned when the user has no verified document.
var ErrNotFound = model.ErrNotFound

// VerifiedDocumentRepository wraps all SQL used by the worker and the API.
type VerifiedDocumentRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewVerifiedDocumentRepository constructs a repository.
func NewVerifiedDocumentRepository(pool *pgxpool.Pool, logger *zap.Logger) *VerifiedDocumentRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerifiedDocumentRepository{pool: pool, logger: logger}
}

// UpsertVerifiedDocument inserts the entry or replaces the user's existing
// one in a single statement.
func (r *VerifiedDocumentRepository) UpsertVerifiedDocument(ctx context.Context, e model.VerifiedDocumentEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO verified_documents
			(user_id, documento_rg_url, idade_verificada, data_nascimento_extraida, file_name, size_bytes, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET
			documento_rg_url = EXCLUDED.documento_rg_url,
			idade_verificada = EXCLUDED.idade_verificada,
			data_nascimento_extraida = EXCLUDED.data_nascimento_extraida,
			file_name = EXCLUDED.file_name,
			size_bytes = EXCLUDED.size_bytes,
			completed_at = EXCLUDED.completed_at
	`, e.UserID, e.ReferenceURL, e.IsAdult, e.BirthDate, e.FileName, e.SizeBytes, e.CompletedAt)
	if err != nil {
		r.logger.Error("failed to upsert verified document", zap.Error(err), zap.String("user_id", e.UserID))
		return fmt.Errorf("upsert verified document: %w", err)
	}
	return nil
}

// GetVerifiedDocument returns the user's entry.
func (r *VerifiedDocumentRepository) GetVerifiedDocument(ctx context.Context, userID string) (*model.VerifiedDocumentEntry, error) {
	var e model.VerifiedDocumentEntry
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, documento_rg_url, idade_verificada, data_nascimento_extraida, file_name, size_bytes, completed_at
		FROM verified_documents WHERE user_id=$1
	`, userID)
	if err := row.Scan(&e.UserID, &e.ReferenceURL, &e.IsAdult, &e.BirthDate, &e.FileName, &e.SizeBytes, &e.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("failed to get verified document", zap.Error(err), zap.String("user_id", userID))
		return nil, fmt.Errorf("select verified document: %w", err)
	}
	e.CompletedAt = e.CompletedAt.UTC()
	return &e, nil
}

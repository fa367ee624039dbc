package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SagaRepository persists the progress of resumable multi-step operations.
type SagaRepository struct {
	db *pgxpool.Pool
}

// NewSagaRepository creates a new SagaRepository.
func NewSagaRepository(db *pgxpool.Pool) *SagaRepository {
	return &SagaRepository{db: db}
}

const sagaColumns = "id, kind, user_id, payload, completed_step, status, last_error, created_at, updated_at"

func scanSaga(row pgx.Row) (*domain.SagaRun, error) {
	var run domain.SagaRun
	err := row.Scan(&run.ID, &run.Kind, &run.UserID, &run.Payload, &run.CompletedStep,
		&run.Status, &run.LastError, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Get returns a saga run, or nil when absent.
func (r *SagaRepository) Get(ctx context.Context, id string) (*domain.SagaRun, error) {
	run, err := scanSaga(r.db.QueryRow(ctx, "SELECT "+sagaColumns+" FROM saga_runs WHERE id = $1", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get saga run: %w", err)
	}
	return run, nil
}

// Save inserts or updates a saga run. The completed step never moves backwards.
func (r *SagaRepository) Save(ctx context.Context, run *domain.SagaRun) error {
	payload := run.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := `
		INSERT INTO saga_runs (id, kind, user_id, payload, completed_step, status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE
		SET completed_step = GREATEST(saga_runs.completed_step, EXCLUDED.completed_step),
		    status = EXCLUDED.status,
		    last_error = EXCLUDED.last_error,
		    updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, run.ID, run.Kind, run.UserID, payload, run.CompletedStep,
		run.Status, run.LastError, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save saga run: %w", err)
	}
	return nil
}

// ListResumable returns unfinished runs of kind last touched before the given time.
func (r *SagaRepository) ListResumable(ctx context.Context, kind string, before time.Time, limit int) ([]*domain.SagaRun, error) {
	rows, err := r.db.Query(ctx, "SELECT "+sagaColumns+`
		FROM saga_runs WHERE kind = $1 AND status IN ('running', 'failed') AND updated_at < $2
		ORDER BY updated_at LIMIT $3
	`, kind, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list saga runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.SagaRun
	for rows.Next() {
		run, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saga run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountPending returns the number of unfinished runs.
func (r *SagaRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM saga_runs WHERE status IN ('running', 'failed')").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count saga runs: %w", err)
	}
	return n, nil
}

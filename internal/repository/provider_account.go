package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderAccountRepository handles OAuth connections to the payment provider.
// Tokens arrive already sealed.
type ProviderAccountRepository struct {
	db *pgxpool.Pool
}

// NewProviderAccountRepository creates a new ProviderAccountRepository.
func NewProviderAccountRepository(db *pgxpool.Pool) *ProviderAccountRepository {
	return &ProviderAccountRepository{db: db}
}

// FindActiveByUser returns the user's active connection, or nil.
func (r *ProviderAccountRepository) FindActiveByUser(ctx context.Context, userID string) (*domain.ProviderAccount, error) {
	query := `
		SELECT id, user_id, provider_user_id, access_token, refresh_token, expires_at, scope,
			is_active, profile_snapshot, created_at, updated_at
		FROM provider_accounts
		WHERE user_id = $1 AND is_active
		ORDER BY created_at DESC LIMIT 1
	`
	var a domain.ProviderAccount
	var profile []byte
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&a.ID, &a.UserID, &a.ProviderUserID, &a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.Scope,
		&a.IsActive, &profile, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find provider account: %w", err)
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &a.ProfileSnapshot); err != nil {
			return nil, fmt.Errorf("failed to decode provider profile: %w", err)
		}
	}
	return &a, nil
}

// ReplaceActive deactivates the user's previous connections and stores a new active one.
func (r *ProviderAccountRepository) ReplaceActive(ctx context.Context, a *domain.ProviderAccount) error {
	profile, err := json.Marshal(a.ProfileSnapshot)
	if err != nil {
		return fmt.Errorf("failed to encode provider profile: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE provider_accounts SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_active
	`, a.UserID); err != nil {
		return fmt.Errorf("failed to deactivate provider accounts: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO provider_accounts (id, user_id, provider_user_id, access_token, refresh_token, expires_at,
			scope, is_active, profile_snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10)
	`, a.ID, a.UserID, a.ProviderUserID, a.AccessToken, a.RefreshToken, a.ExpiresAt,
		a.Scope, profile, a.CreatedAt, a.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert provider account: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdateTokens stores refreshed tokens on an existing connection.
func (r *ProviderAccountRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE provider_accounts
		SET access_token = $1, refresh_token = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $4
	`, accessToken, refreshToken, expiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to update provider tokens: %w", err)
	}
	return nil
}

// DeactivateByUser marks all of a user's connections inactive.
func (r *ProviderAccountRepository) DeactivateByUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE provider_accounts SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_active
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate provider accounts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByUser removes all of a user's connections.
func (r *ProviderAccountRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	return deleteByUser(ctx, r.db, "provider_accounts", userID)
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles users and their role assignments.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user with its roles, or nil when absent.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, email, display_name, phone, created_at, updated_at
		FROM users WHERE id = $1
	`
	var u domain.User
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.DisplayName, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	roles, err := r.ListRoles(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

// ListRoles returns every role assignment of a user, active or not.
func (r *UserRepository) ListRoles(ctx context.Context, userID string) ([]domain.RoleAssignment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT role_name, assigned_at, is_active
		FROM user_roles WHERE user_id = $1 ORDER BY assigned_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []domain.RoleAssignment
	for rows.Next() {
		var ra domain.RoleAssignment
		if err := rows.Scan(&ra.RoleName, &ra.AssignedAt, &ra.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, ra)
	}
	return roles, rows.Err()
}

// SetRoleActive grants or revokes a role, keeping the original assignment date
// unless the role is being granted again.
func (r *UserRepository) SetRoleActive(ctx context.Context, userID string, role domain.RoleName, active bool) error {
	if !active {
		_, err := r.db.Exec(ctx, "UPDATE user_roles SET is_active = FALSE WHERE user_id = $1 AND role_name = $2", userID, role)
		if err != nil {
			return fmt.Errorf("failed to revoke role %s: %w", role, err)
		}
		return nil
	}
	query := `
		INSERT INTO user_roles (user_id, role_name, assigned_at, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (user_id, role_name) DO UPDATE
		SET is_active = TRUE,
		    assigned_at = CASE WHEN user_roles.is_active = FALSE
		                       THEN EXCLUDED.assigned_at ELSE user_roles.assigned_at END
	`
	if _, err := r.db.Exec(ctx, query, userID, role, time.Now()); err != nil {
		return fmt.Errorf("failed to set role %s: %w", role, err)
	}
	return nil
}

// ReplaceRoles makes exactly the given roles active for a user.
func (r *UserRepository) ReplaceRoles(ctx context.Context, userID string, roles []domain.RoleName) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE user_roles SET is_active = FALSE
		WHERE user_id = $1 AND NOT (role_name = ANY($2))
	`, userID, names); err != nil {
		return fmt.Errorf("failed to revoke roles: %w", err)
	}
	for _, name := range names {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_name, assigned_at, is_active)
			VALUES ($1, $2, NOW(), TRUE)
			ON CONFLICT (user_id, role_name) DO UPDATE SET is_active = TRUE
		`, userID, name); err != nil {
			return fmt.Errorf("failed to grant role %s: %w", name, err)
		}
	}
	return tx.Commit(ctx)
}

// Delete removes a user and its role assignments. It reports whether the user existed.
func (r *UserRepository) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM user_roles WHERE user_id = $1", id); err != nil {
		return false, fmt.Errorf("failed to delete roles: %w", err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit user deletion: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Count returns the number of users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

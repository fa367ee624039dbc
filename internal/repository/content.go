package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContentRepository handles the marketplace records owned by a user: posts,
// bookings, notifications and favorites.
type ContentRepository struct {
	db *pgxpool.Pool
}

// NewContentRepository creates a new ContentRepository.
func NewContentRepository(db *pgxpool.Pool) *ContentRepository {
	return &ContentRepository{db: db}
}

// CountActivePosts counts the posts that use up publishing quota.
func (r *ContentRepository) CountActivePosts(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM posts WHERE user_id = $1 AND status IN ($2, $3, $4)
	`, userID, domain.PostDraft, domain.PostPublished, domain.PostPaused).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// CountBookingsReceivedSince counts non-cancelled bookings made on the user's
// posts since the start of the current subscription period.
func (r *ContentRepository) CountBookingsReceivedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings b
		JOIN posts p ON p.id = b.post_id
		WHERE p.user_id = $1 AND b.status <> 'cancelled' AND b.created_at >= $2
	`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return n, nil
}

func (r *ContentRepository) DeletePostsByUser(ctx context.Context, userID string) (int, error) {
	return deleteByUser(ctx, r.db, "posts", userID)
}

func (r *ContentRepository) DeleteBookingsByUser(ctx context.Context, userID string) (int, error) {
	return deleteByUser(ctx, r.db, "bookings", userID)
}

func (r *ContentRepository) DeleteNotificationsByUser(ctx context.Context, userID string) (int, error) {
	return deleteByUser(ctx, r.db, "notifications", userID)
}

func (r *ContentRepository) DeleteFavoritesByUser(ctx context.Context, userID string) (int, error) {
	return deleteByUser(ctx, r.db, "favorites", userID)
}

// deleteByUser removes every row of table owned by userID. table is always a
// constant from this package.
func deleteByUser(ctx context.Context, db *pgxpool.Pool, table, userID string) (int, error) {
	tag, err := db.Exec(ctx, "DELETE FROM "+table+" WHERE user_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", table, err)
	}
	return int(tag.RowsAffected()), nil
}

package parking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/database"
)

// SubscriptionRepository defines the interface for durable subscriptions.
type SubscriptionRepository interface {
	// Create subscribes userID to spaceID. Returns ErrSpaceNotFound for an
	// unknown space and ErrAlreadySubscribed for a duplicate pair.
	Create(ctx context.Context, userID, spaceID string) (*Subscription, error)

	// Delete removes the pair. Returns ErrSubscriptionNotFound when absent.
	Delete(ctx context.Context, userID, spaceID string) error

	Exists(ctx context.Context, userID, spaceID string) (bool, error)

	// ListByUser returns the user's subscriptions with their spaces, newest first.
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)

	// ListTopicsByUser returns the realtime topics (space IDs) the user is
	// durably subscribed to.
	ListTopicsByUser(ctx context.Context, userID string) ([]string, error)
}

// SQLiteSubscriptionRepository implements SubscriptionRepository using SQLite.
type SQLiteSubscriptionRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewSubscriptionRepository creates a new SQLite-backed subscription repository.
func NewSubscriptionRepository(db *database.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db, now: time.Now}
}

// Create inserts a subscription with a generated ID.
func (r *SQLiteSubscriptionRepository) Create(ctx context.Context, userID, spaceID string) (*Subscription, error) {
	space, err := getSpace(ctx, r.db, "id", spaceID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:             "sub-" + uuid.NewString(),
		UserID:         userID,
		ParkingSpaceID: spaceID,
		CreatedAt:      r.now().UTC().Truncate(time.Millisecond),
		ParkingSpace:   space,
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, parking_space_id, created_at) VALUES (?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.ParkingSpaceID, sub.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return nil, ErrAlreadySubscribed
		case database.IsForeignKeyViolation(err):
			// The space was checked above, so the missing row is the user.
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return sub, nil
}

// Delete removes a subscription.
func (r *SQLiteSubscriptionRepository) Delete(ctx context.Context, userID, spaceID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE user_id = ? AND parking_space_id = ?", userID, spaceID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Exists reports whether userID is subscribed to spaceID.
func (r *SQLiteSubscriptionRepository) Exists(ctx context.Context, userID, spaceID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND parking_space_id = ?", userID, spaceID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking subscription exists: %w", err)
	}
	return count > 0, nil
}

// ListByUser returns the user's subscriptions joined with their spaces.
func (r *SQLiteSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.parking_space_id, s.created_at,
			p.id, p.sensor_id, p.name, p.description, p.address, p.latitude, p.longitude,
			p.is_occupied, p.current_price, p.created_at, p.updated_at
		FROM subscriptions s
		JOIN parking_spaces p ON p.id = s.parking_space_id
		WHERE s.user_id = ?
		ORDER BY s.created_at DESC, s.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []Subscription{}
	for rows.Next() {
		var sub Subscription
		var createdAt string
		space, err := scanSpace(prefixScanner{rows: rows, prefix: []any{&sub.ID, &sub.UserID, &sub.ParkingSpaceID, &createdAt}})
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		if sub.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing subscription created_at: %w", err)
		}
		sub.ParkingSpace = space
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

// ListTopicsByUser returns the space IDs the user is subscribed to.
func (r *SQLiteSubscriptionRepository) ListTopicsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT parking_space_id FROM subscriptions WHERE user_id = ? ORDER BY created_at", userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscription topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning subscription topic: %w", err)
		}
		topics = append(topics, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscription topics: %w", err)
	}
	return topics, nil
}

// prefixScanner lets scanSpace read the trailing columns of a joined row.
type prefixScanner struct {
	rows   rowScanner
	prefix []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append(p.prefix, dest...)...)
}

package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore resolves profiles from the users table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetUser fetches the profile row for id, projecting only the fields the
// presence system needs.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	const query = `SELECT id, user_name, avatar_url FROM users WHERE id = $1`

	var (
		userID    string
		userName  pgtype.Text
		avatarURL pgtype.Text
	)

	err := s.pool.QueryRow(ctx, query, id).Scan(&userID, &userName, &avatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}

	return User{
		ID:          userID,
		DisplayName: userName.String,
		AvatarURL:   avatarURL.String,
	}, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/model"
)

const identityCols = `id, name, email, avatar_url, created_at`

// IdentityRepository reads the account subsystem's users table.
type IdentityRepository struct {
	pool *pgxpool.Pool
}

func NewIdentityRepository(pool *pgxpool.Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

func scanIdentity(s interface{ Scan(dest ...any) error }, i *model.Identity) error {
	return s.Scan(&i.ID, &i.Name, &i.Email, &i.AvatarURL, &i.CreatedAt)
}

// Create is used by --dev seeding and tests; production identities come from the account subsystem.
func (r *IdentityRepository) Create(ctx context.Context, i *model.Identity) error {
	defer logger.DeferLogDuration("identity.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, avatar_url) VALUES ($1, $2, $3) RETURNING id, created_at`,
		i.Name, i.Email, i.AvatarURL,
	).Scan(&i.ID, &i.CreatedAt)
	if err != nil {
		return fmt.Errorf("identityRepo.Create: %w", err)
	}
	return nil
}

func (r *IdentityRepository) GetByID(ctx context.Context, id int64) (*model.Identity, error) {
	defer logger.DeferLogDuration("identity.GetByID", time.Now())()
	i := &model.Identity{}
	row := r.pool.QueryRow(ctx, `SELECT `+identityCols+` FROM users WHERE id = $1`, id)
	if err := scanIdentity(row, i); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("identityRepo.GetByID: %w", err)
	}
	return i, nil
}

// Search matches name or email by case-insensitive substring, excluding excludeID.
func (r *IdentityRepository) Search(ctx context.Context, fragment string, excludeID int64, limit int) ([]model.Identity, error) {
	defer logger.DeferLogDuration("identity.Search", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+identityCols+` FROM users
		 WHERE id <> $2 AND (name ILIKE $1 OR email ILIKE $1)
		 ORDER BY name, id
		 LIMIT $3`,
		containsPattern(fragment), excludeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("identityRepo.Search query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Identity, 0, limit)
	for rows.Next() {
		var i model.Identity
		if err := scanIdentity(rows, &i); err != nil {
			return nil, fmt.Errorf("identityRepo.Search scan: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identityRepo.Search rows: %w", err)
	}
	return out, nil
}

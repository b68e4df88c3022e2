// internal/database/member.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/viksva/lobbyd/internal/models"
)

// Store is a guild-scoped handle onto the shared pool. Every query it runs
// is qualified with the guild's schema, so two stores never see each
// other's rows.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	logger *logrus.Logger
}

// Schema returns the schema identifier this store is bound to.
func (s *Store) Schema() string {
	return s.schema
}

// EnsureMember inserts the member if its id is not yet known. The create is
// idempotent: a second call for the same id is a no-op reported through the
// returned flag, not an error.
func (s *Store) EnsureMember(ctx context.Context, m models.Member) (bool, error) {
	q := fmt.Sprintf(`INSERT INTO %s.members (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, s.schema)

	tag, err := s.pool.Exec(ctx, q, m.ID, m.Name)
	if err != nil {
		return false, fmt.Errorf("failed to ensure member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debugf("member %s already known in %s", m.ID, s.schema)
		return false, nil
	}
	return true, nil
}

// MemberByName looks up a member by exact display name. If several members
// share the name, the first by id order is returned. A miss is ErrNotFound.
func (s *Store) MemberByName(ctx context.Context, name string) (models.Member, error) {
	q := fmt.Sprintf(`SELECT id, name FROM %s.members WHERE name = $1
		ORDER BY id LIMIT 1`, s.schema)

	var m models.Member
	err := s.pool.QueryRow(ctx, q, name).Scan(&m.ID, &m.Name)
	if err == pgx.ErrNoRows {
		return models.Member{}, fmt.Errorf("member %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to select member: %w", err)
	}
	return m, nil
}

// memberName resolves a member id to its display name, or "" if unknown.
func (s *Store) memberName(ctx context.Context, id string) (string, error) {
	q := fmt.Sprintf(`SELECT name FROM %s.members WHERE id = $1`, s.schema)

	var name string
	err := s.pool.QueryRow(ctx, q, id).Scan(&name)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve member name: %w", err)
	}
	return name, nil
}

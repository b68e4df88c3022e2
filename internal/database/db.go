// internal/database/db.go
package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrBadGuildName is returned when a guild name reduces to nothing usable
// as a schema identifier.
var ErrBadGuildName = errors.New("guild name contains no usable characters")

// Stores manages one logically isolated store per guild. Each guild maps to
// its own Postgres schema, provisioned on first use; all schemas share one
// connection pool.
type Stores struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger

	mu     sync.Mutex
	stores map[string]*Store
	// names maps schema back to the guild name first seen for it, so
	// Guilds() hands out names that round-trip through Guild().
	names map[string]string
}

// NewStores connects the pool and verifies the connection with a short ping.
func NewStores(ctx context.Context, databaseURL string, logger *logrus.Logger) (*Stores, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	return &Stores{
		pool:   pool,
		logger: logger,
		stores: make(map[string]*Store),
		names:  make(map[string]string),
	}, nil
}

// Guild returns the store for the named guild, provisioning its schema and
// tables on first use. Redundant calls for a known guild are cheap.
func (s *Stores) Guild(ctx context.Context, guild string) (*Store, error) {
	schema, err := schemaName(guild)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if st, ok := s.stores[schema]; ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	// Provision outside the lock: CREATE IF NOT EXISTS is safe to race.
	if err := s.provision(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to provision guild %q: %w", guild, err)
	}

	st := &Store{pool: s.pool, schema: schema, logger: s.logger}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.stores[schema]; ok {
		return existing, nil
	}
	s.stores[schema] = st
	s.names[schema] = guild
	s.logger.Infof("provisioned guild store %s", schema)
	return st, nil
}

// Guilds lists every guild provisioned by this process, sorted for
// deterministic sweep order.
func (s *Stores) Guilds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	guilds := make([]string, 0, len(s.names))
	for _, guild := range s.names {
		guilds = append(guilds, guild)
	}
	sort.Strings(guilds)
	return guilds
}

// Close releases the shared connection pool.
func (s *Stores) Close() {
	s.pool.Close()
}

func (s *Stores) provision(ctx context.Context, schema string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.members (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.lobbies (
			id        BIGINT PRIMARY KEY,
			name      TEXT NOT NULL,
			date      TIMESTAMP NOT NULL,
			size      INT NOT NULL CHECK (size > 0),
			leader_id TEXT NOT NULL
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.participations (
			row_id    BIGSERIAL PRIMARY KEY,
			member_id TEXT NOT NULL REFERENCES %s.members(id),
			lobby_id  BIGINT NOT NULL REFERENCES %s.lobbies(id) ON DELETE CASCADE,
			leader_id TEXT NOT NULL
		)`, schema, schema, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS participations_lobby_idx
			ON %s.participations (lobby_id)`, schema),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// schemaName normalizes a guild name into a safe schema identifier: lowered,
// whitespace and punctuation removed, prefixed so it always starts with a
// letter. The prefix also keeps guild schemas out of the way of anything
// else living in the database.
func schemaName(guild string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(guild) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrBadGuildName, guild)
	}
	return "guild_" + b.String(), nil
}

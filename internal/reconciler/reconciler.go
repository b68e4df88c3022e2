// Package reconciler runs the periodic sweep that reclaims leaderless
// lobbies: any lobby with zero participation rows is deleted. The sweep
// runs independently of command handling and never blocks it.
package reconciler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/viksva/lobbyd/internal/events"
	"github.com/viksva/lobbyd/internal/models"
)

// Store is the per-guild surface the sweep needs.
type Store interface {
	SelectLobbies(ctx context.Context, scope models.Scope) (map[int64]models.LobbySummary, error)
	HasNoLeader(ctx context.Context, lobbyID int64) (bool, error)
	DeleteLobby(ctx context.Context, lobbyID int64) error
}

// StoreProvider enumerates the known guilds and hands out their stores.
type StoreProvider interface {
	Guilds() []string
	Guild(ctx context.Context, guild string) (Store, error)
}

// Publisher receives a lobby_reaped event per deletion. May be nil.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Reconciler sweeps every known guild on a fixed interval.
type Reconciler struct {
	stores    StoreProvider
	publisher Publisher
	interval  time.Duration
	logger    *logrus.Logger
}

// New builds a reconciler. interval defaults to a minute when non-positive.
func New(stores StoreProvider, publisher Publisher, interval time.Duration, logger *logrus.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		stores:    stores,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Run blocks on the ticker until ctx is done, sweeping once per tick.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Infof("reconciler running every %v", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep visits every guild once. A failure in one guild's store is logged
// and skipped; it never aborts the sweep of the remaining guilds. No
// store-wide lock is held: each deletion is its own transaction.
func (r *Reconciler) Sweep(ctx context.Context) {
	for _, guild := range r.stores.Guilds() {
		if err := r.sweepGuild(ctx, guild); err != nil {
			r.logger.Warnf("sweep of guild %s failed: %v", guild, err)
		}
	}
}

func (r *Reconciler) sweepGuild(ctx context.Context, guild string) error {
	store, err := r.stores.Guild(ctx, guild)
	if err != nil {
		return err
	}

	lobbies, err := store.SelectLobbies(ctx, models.ScopeAllLobbies())
	if err != nil {
		return err
	}

	for id, summary := range lobbies {
		empty, err := store.HasNoLeader(ctx, id)
		if err != nil {
			r.logger.Warnf("liveness check for lobby %d in %s failed: %v", id, guild, err)
			continue
		}
		if !empty {
			continue
		}

		if err := store.DeleteLobby(ctx, id); err != nil {
			r.logger.Warnf("failed to delete leaderless lobby %d in %s: %v", id, guild, err)
			continue
		}
		r.logger.Infof("deleted leaderless lobby %d (%s) in %s", id, summary.Name, guild)

		if r.publisher != nil {
			ev := events.Event{
				Kind:      events.KindLobbyReaped,
				Guild:     guild,
				LobbyID:   id,
				LobbyName: summary.Name,
			}
			if err := r.publisher.Publish(ctx, ev); err != nil {
				r.logger.Warnf("failed to publish lobby_reaped event: %v", err)
			}
		}
	}
	return nil
}

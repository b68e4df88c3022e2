package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/viksva/lobbyd/internal/events"
	"github.com/viksva/lobbyd/internal/models"
)

// sweepStore is an in-memory guild store. populated marks lobbies that
// still carry participation rows.
type sweepStore struct {
	mu        sync.Mutex
	lobbies   map[int64]models.LobbySummary
	populated map[int64]bool
	failList  bool
}

func newSweepStore() *sweepStore {
	return &sweepStore{
		lobbies:   make(map[int64]models.LobbySummary),
		populated: make(map[int64]bool),
	}
}

func (s *sweepStore) add(id int64, name string, populated bool) {
	s.lobbies[id] = models.LobbySummary{Name: name}
	s.populated[id] = populated
}

func (s *sweepStore) SelectLobbies(ctx context.Context, scope models.Scope) (map[int64]models.LobbySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, errors.New("store unavailable")
	}
	out := make(map[int64]models.LobbySummary, len(s.lobbies))
	for id, l := range s.lobbies {
		out[id] = l
	}
	return out, nil
}

func (s *sweepStore) HasNoLeader(ctx context.Context, lobbyID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.populated[lobbyID], nil
}

func (s *sweepStore) DeleteLobby(ctx context.Context, lobbyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lobbies, lobbyID)
	delete(s.populated, lobbyID)
	return nil
}

type sweepProvider struct {
	guilds map[string]*sweepStore
}

func (p sweepProvider) Guilds() []string {
	names := make([]string, 0, len(p.guilds))
	// Deterministic order keeps the failure-isolation test stable.
	for _, g := range []string{"alpha", "beta", "gamma"} {
		if _, ok := p.guilds[g]; ok {
			names = append(names, g)
		}
	}
	return names
}

func (p sweepProvider) Guild(ctx context.Context, guild string) (Store, error) {
	store, ok := p.guilds[guild]
	if !ok {
		return nil, errors.New("unknown guild")
	}
	return store, nil
}

type capturedFeed struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *capturedFeed) Publish(ctx context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestSweepDeletesOnlyLeaderlessLobbies(t *testing.T) {
	store := newSweepStore()
	store.add(1, "RaidX", false)
	store.add(2, "RaidX", true)
	store.add(3, "Dungeon", false)

	feed := &capturedFeed{}
	rec := New(sweepProvider{guilds: map[string]*sweepStore{"alpha": store}}, feed, 0, quietLogger())
	rec.Sweep(context.Background())

	require.NotContains(t, store.lobbies, int64(1))
	require.Contains(t, store.lobbies, int64(2))
	require.NotContains(t, store.lobbies, int64(3))

	require.Len(t, feed.events, 2)
	for _, ev := range feed.events {
		require.Equal(t, events.KindLobbyReaped, ev.Kind)
		require.Equal(t, "alpha", ev.Guild)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	store := newSweepStore()
	store.add(1, "RaidX", false)

	rec := New(sweepProvider{guilds: map[string]*sweepStore{"alpha": store}}, nil, 0, quietLogger())
	rec.Sweep(context.Background())
	rec.Sweep(context.Background())

	require.Empty(t, store.lobbies)
}

func TestSweepGuildFailureDoesNotAbortOthers(t *testing.T) {
	broken := newSweepStore()
	broken.failList = true
	broken.add(1, "RaidX", false)

	healthy := newSweepStore()
	healthy.add(2, "RaidX", false)

	rec := New(sweepProvider{guilds: map[string]*sweepStore{
		"alpha": broken,
		"beta":  healthy,
	}}, nil, 0, quietLogger())
	rec.Sweep(context.Background())

	require.Empty(t, healthy.lobbies)
	require.Contains(t, broken.lobbies, int64(1))
}

func TestSweepWithoutPublisher(t *testing.T) {
	store := newSweepStore()
	store.add(1, "RaidX", false)

	rec := New(sweepProvider{guilds: map[string]*sweepStore{"alpha": store}}, nil, 0, quietLogger())
	rec.Sweep(context.Background())

	require.Empty(t, store.lobbies)
}

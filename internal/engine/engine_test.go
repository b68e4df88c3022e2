package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/viksva/lobbyd/internal/database"
	"github.com/viksva/lobbyd/internal/models"
	"github.com/viksva/lobbyd/internal/timeparse"
)

// fakeStore is an in-memory stand-in for the guild-scoped database store.
type fakeStore struct {
	mu      sync.Mutex
	members map[string]models.Member
	lobbies map[int64]models.Lobby
	parts   []models.Participation
	nextRow int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members: make(map[string]models.Member),
		lobbies: make(map[int64]models.Lobby),
	}
}

func (s *fakeStore) EnsureMember(ctx context.Context, m models.Member) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; ok {
		return false, nil
	}
	s.members[m.ID] = m
	return true, nil
}

func (s *fakeStore) ProvisionLobby(ctx context.Context, requester models.Member, lobby models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[requester.ID]; !ok {
		s.members[requester.ID] = requester
	}
	s.lobbies[lobby.ID] = lobby
	s.nextRow++
	s.parts = append(s.parts, models.Participation{
		RowID:    s.nextRow,
		MemberID: requester.ID,
		LobbyID:  lobby.ID,
		LeaderID: requester.ID,
	})
	return nil
}

func (s *fakeStore) MemberByName(ctx context.Context, name string) (models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if s.members[id].Name == name {
			return s.members[id], nil
		}
	}
	return models.Member{}, database.ErrNotFound
}

func (s *fakeStore) SelectLobbies(ctx context.Context, scope models.Scope) (map[int64]models.LobbySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make(map[int64]models.LobbySummary)
	for id, l := range s.lobbies {
		switch scope.Kind {
		case models.ScopeByMember:
			if !s.participates(scope.MemberID, id) {
				continue
			}
		case models.ScopeByNameAndMember:
			if l.Name != scope.Name || !s.participates(scope.MemberID, id) {
				continue
			}
		}
		matches[id] = s.summarize(l)
	}
	return matches, nil
}

func (s *fakeStore) participates(memberID string, lobbyID int64) bool {
	for _, p := range s.parts {
		if p.MemberID == memberID && p.LobbyID == lobbyID {
			return true
		}
	}
	return false
}

func (s *fakeStore) summarize(l models.Lobby) models.LobbySummary {
	summary := models.LobbySummary{Name: l.Name, Date: l.Date, Size: l.Size}
	for _, p := range s.parts {
		if p.LobbyID == l.ID {
			summary.Participants = append(summary.Participants, s.members[p.MemberID].Name)
		}
	}
	summary.Leader = s.members[l.LeaderID].Name
	return summary
}

func (s *fakeStore) DeleteParticipant(ctx context.Context, lobbyID int64, memberID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.Participation
	var removed int64
	for _, p := range s.parts {
		if p.LobbyID == lobbyID && p.MemberID == memberID {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.parts = kept
	return removed, nil
}

func (s *fakeStore) participationCount(lobbyID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.parts {
		if p.LobbyID == lobbyID {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	store *fakeStore
}

func (p fakeProvider) Guild(ctx context.Context, guild string) (Store, error) {
	return p.store, nil
}

// fakeInteractor scripts the interaction collaborator. respond builds the
// selection event for an issued prompt; nil respond blocks until the
// context expires. onAwait runs just before the event is delivered, so
// tests can race a concurrent mutation against the session.
type fakeInteractor struct {
	mu      sync.Mutex
	prompts []models.DisambiguationPrompt
	updates []models.LeaveOutcome
	respond func(prompt models.DisambiguationPrompt) models.SelectionEvent
	onAwait func()
}

func (f *fakeInteractor) IssuePrompt(ctx context.Context, guild string, prompt models.DisambiguationPrompt) (PromptHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return PromptHandle{ID: "prompt-" + prompt.SessionID}, nil
}

func (f *fakeInteractor) AttachSelectors(ctx context.Context, guild string, handle PromptHandle, symbols []string) error {
	return nil
}

func (f *fakeInteractor) AwaitSelection(ctx context.Context, guild string, handle PromptHandle, valid func(models.SelectionEvent) bool) (models.SelectionEvent, error) {
	if f.respond == nil {
		<-ctx.Done()
		return models.SelectionEvent{}, ctx.Err()
	}
	if f.onAwait != nil {
		f.onAwait()
	}
	f.mu.Lock()
	prompt := f.prompts[len(f.prompts)-1]
	f.mu.Unlock()

	ev := f.respond(prompt)
	ev.PromptID = handle.ID
	return ev, nil
}

func (f *fakeInteractor) UpdatePrompt(ctx context.Context, guild string, handle PromptHandle, outcome models.LeaveOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, outcome)
	return nil
}

func newTestEngine(store *fakeStore, interactor Interactor) *Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(fakeProvider{store}, interactor, nil, 50*time.Millisecond, "lobbyd", logger)
}

var memberA = models.Member{ID: "member-a", Name: "Alice"}

func TestCreatePersistsLobbyWithLeader(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(store, &fakeInteractor{})

	created, err := eng.Create(context.Background(), CreateCommand{
		Guild:     "guardians",
		Requester: memberA,
		LobbyName: "RaidX",
		RawDate:   "2508221800",
		Size:      5,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	lobbies, err := eng.List(context.Background(), "guardians", models.ScopeMember(memberA.ID))
	require.NoError(t, err)
	require.Len(t, lobbies, 1)

	summary := lobbies[created.ID]
	require.Equal(t, "RaidX", summary.Name)
	require.Equal(t, 5, summary.Size)
	require.Equal(t, "Alice", summary.Leader)
	require.Equal(t, []string{"Alice"}, summary.Participants)
}

func TestCreateRejectsMalformedDate(t *testing.T) {
	eng := newTestEngine(newFakeStore(), &fakeInteractor{})

	_, err := eng.Create(context.Background(), CreateCommand{
		Guild:     "guardians",
		Requester: memberA,
		LobbyName: "RaidX",
		RawDate:   "not-a-date",
		Size:      5,
	})
	require.ErrorIs(t, err, timeparse.ErrInvalidFormat)
}

func TestCreateRejectsNonPositiveSize(t *testing.T) {
	eng := newTestEngine(newFakeStore(), &fakeInteractor{})

	_, err := eng.Create(context.Background(), CreateCommand{
		Guild:     "guardians",
		Requester: memberA,
		LobbyName: "RaidX",
		RawDate:   "2508221800",
		Size:      0,
	})
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestRegisterMemberIdempotent(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(store, &fakeInteractor{})

	require.NoError(t, eng.RegisterMember(context.Background(), "guardians", memberA))
	require.NoError(t, eng.RegisterMember(context.Background(), "guardians", memberA))
	require.Len(t, store.members, 1)
}

func TestListByMemberNameUnknownIsEmpty(t *testing.T) {
	eng := newTestEngine(newFakeStore(), &fakeInteractor{})

	lobbies, err := eng.ListByMemberName(context.Background(), "guardians", "Nobody")
	require.NoError(t, err)
	require.Empty(t, lobbies)
}

func TestLeaveNoMatch(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(store, &fakeInteractor{})

	outcome, err := eng.Leave(context.Background(), LeaveCommand{
		Guild:     "guardians",
		Requester: memberA,
		LobbyName: "RaidX",
	})
	require.NoError(t, err)
	require.Equal(t, models.LeaveNoMatch, outcome.Status)
	require.Empty(t, store.parts)
}

func TestLeaveSingleMatch(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(store, &fakeInteractor{})

	created, err := eng.Create(context.Background(), CreateCommand{
		Guild: "guardians", Requester: memberA, LobbyName: "RaidX", RawDate: "2508221800", Size: 5,
	})
	require.NoError(t, err)

	outcome, err := eng.Leave(context.Background(), LeaveCommand{
		Guild: "guardians", Requester: memberA, LobbyName: "RaidX",
	})
	require.NoError(t, err)
	require.Equal(t, models.LeaveLeft, outcome.Status)
	require.Equal(t, created.ID, outcome.LobbyID)
	require.Equal(t, "RaidX", outcome.Summary.Name)
	require.Zero(t, store.participationCount(created.ID))

	// The emptied lobby row survives; reclaiming it is the sweep's job.
	require.Contains(t, store.lobbies, created.ID)

	again, err := eng.Leave(context.Background(), LeaveCommand{
		Guild: "guardians", Requester: memberA, LobbyName: "RaidX",
	})
	require.NoError(t, err)
	require.Equal(t, models.LeaveNoMatch, again.Status)
}

// createN creates n lobbies of the same name for memberA and returns their
// ids in ascending order, matching candidate order.
func createN(t *testing.T, eng *Engine, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		created, err := eng.Create(context.Background(), CreateCommand{
			Guild: "guardians", Requester: memberA, LobbyName: "RaidX", RawDate: "2508221800", Size: 5,
		})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestLeaveMultiMatchResolved(t *testing.T) {
	store := newFakeStore()
	interactor := &fakeInteractor{
		respond: func(prompt models.DisambiguationPrompt) models.SelectionEvent {
			return models.SelectionEvent{Selector: "1", ActorID: memberA.ID}
		},
	}
	eng := newTestEngine(store, interactor)
	ids := createN(t, eng, 3)

	outcome, err := eng.Leave(context.Background(), LeaveCommand{
		Guild: "guardians", Requester: memberA, LobbyName: "RaidX",
	})
	require.NoError(t, err)
	require.Equal(t, models.LeaveLeft, outcome.Status)
	require.Equal(t, ids[1], outcome.LobbyID)

	// Selector "1" removes the requester from candidate index 1 only.
	require.Zero(t, store.participationCount(ids[1]))
	require.Equal(t, 1, store.participationCount(ids[0]))
	require.Equal(t, 1, store.participationCount(ids[2]))

	require.Len(t, interactor.prompts, 1)
	require.Equal(t, ids, interactor.prompts[0].Candidates)
	require.Len(t, interactor.updates, 1)
	require.Equal(t, models.LeaveLeft, interactor.updates[0].Status)
}

func TestLeaveMultiMatchExpires(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(store, &fakeInteractor{}) // no respond: blocks until TTL
	ids := createN(t, eng, 2)

	outcome, err := eng.Leave(context.Background(), LeaveCommand{
		Guild: "guardians", Requester: memberA, LobbyName: "RaidX",
	})
	require.NoError(t, err)
	require.Equal(t, models.LeaveExpired, outcome.Status)
	require.Equal(t, 1, store.participationCount(ids[0]))
	require.Equal(t, 1, store.participationCount(ids[1]))
}

func TestLeaveStaleSelectionIsNoMatch(t *testing.T) {
	store := newFakeStore()
	interactor := &fakeInteractor{
		respond: func(prompt models.DisambiguationPrompt) models.SelectionEvent {
			return models.SelectionEvent{Selector: "0", ActorID: memberA.ID}
		},
	}
	eng := newTestEngine(store, interactor)
	ids := createN(t, eng, 2)

	// A concurrent leave wins the race while the session is suspended.
	interactor.onAwait = func() {
		_, err := store.DeleteParticipant(context.Background(), ids[0], memberA.ID)
		require.NoError(t, err)
	}

	outcome, err := eng.Leave(context.Background(), LeaveCommand{
		Guild: "guardians", Requester: memberA, LobbyName: "RaidX",
	})
	require.NoError(t, err)
	require.Equal(t, models.LeaveNoMatch, outcome.Status)
	require.Equal(t, 1, store.participationCount(ids[1]))
}

func TestLeaveMultiMatchTruncatesPrompt(t *testing.T) {
	store := newFakeStore()
	interactor := &fakeInteractor{
		respond: func(prompt models.DisambiguationPrompt) models.SelectionEvent {
			return models.SelectionEvent{Selector: "0", ActorID: memberA.ID}
		},
	}
	eng := newTestEngine(store, interactor)
	createN(t, eng, 12)

	outcome, err := eng.Leave(context.Background(), LeaveCommand{
		Guild: "guardians", Requester: memberA, LobbyName: "RaidX",
	})
	require.NoError(t, err)
	require.Equal(t, models.LeaveLeft, outcome.Status)

	require.Len(t, interactor.prompts, 1)
	require.Len(t, interactor.prompts[0].Candidates, 10)
	require.Equal(t, 12, interactor.prompts[0].TotalMatches)
}

// Package engine implements the lobby lifecycle rules: create, list, and
// leave with disambiguation. It talks to the guild-scoped store and to the
// interaction collaborator, and returns structured facts only; rendering is
// the caller's concern.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/viksva/lobbyd/internal/database"
	"github.com/viksva/lobbyd/internal/events"
	"github.com/viksva/lobbyd/internal/models"
	"github.com/viksva/lobbyd/internal/session"
	"github.com/viksva/lobbyd/internal/timeparse"
)

// ErrInvalidSize is returned when a create request carries a non-positive
// lobby capacity.
var ErrInvalidSize = errors.New("lobby size must be a positive integer")

// Store is the per-guild persistence surface the engine depends on.
// *database.Store satisfies it; tests substitute an in-memory fake.
type Store interface {
	EnsureMember(ctx context.Context, m models.Member) (bool, error)
	ProvisionLobby(ctx context.Context, requester models.Member, lobby models.Lobby) error
	MemberByName(ctx context.Context, name string) (models.Member, error)
	SelectLobbies(ctx context.Context, scope models.Scope) (map[int64]models.LobbySummary, error)
	DeleteParticipant(ctx context.Context, lobbyID int64, memberID string) (int64, error)
}

// StoreProvider hands out the isolated store for a guild.
type StoreProvider interface {
	Guild(ctx context.Context, guild string) (Store, error)
}

// PromptHandle identifies an issued disambiguation prompt at the
// interaction layer.
type PromptHandle struct {
	ID string
}

// Interactor is the interaction collaborator: it carries prompts out to the
// chat platform and selection events back in.
type Interactor interface {
	IssuePrompt(ctx context.Context, guild string, prompt models.DisambiguationPrompt) (PromptHandle, error)
	AttachSelectors(ctx context.Context, guild string, handle PromptHandle, symbols []string) error
	AwaitSelection(ctx context.Context, guild string, handle PromptHandle, valid func(models.SelectionEvent) bool) (models.SelectionEvent, error)
	UpdatePrompt(ctx context.Context, guild string, handle PromptHandle, outcome models.LeaveOutcome) error
}

// Publisher is the lifecycle event feed. Feed failures are logged and
// swallowed; they never fail the command that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Engine enforces the lobby lifecycle rules.
type Engine struct {
	stores     StoreProvider
	interactor Interactor
	publisher  Publisher
	sessionTTL time.Duration
	systemID   string
	logger     *logrus.Logger
}

// New wires an engine. publisher may be nil when no event feed is
// configured. systemID is the service's own actor id, used to reject
// self-originated selection events.
func New(stores StoreProvider, interactor Interactor, publisher Publisher, sessionTTL time.Duration, systemID string, logger *logrus.Logger) *Engine {
	return &Engine{
		stores:     stores,
		interactor: interactor,
		publisher:  publisher,
		sessionTTL: sessionTTL,
		systemID:   systemID,
		logger:     logger,
	}
}

// CreateCommand carries one create request with its implicit caller and
// guild identity supplied by the dispatch collaborator.
type CreateCommand struct {
	Guild     string
	Requester models.Member
	LobbyName string
	RawDate   string
	Size      int
}

// Create validates the date token, generates a collision-resistant random
// lobby id, and persists the member, lobby and initial participation row
// atomically. The requester becomes the lobby's leader.
func (e *Engine) Create(ctx context.Context, cmd CreateCommand) (models.LobbyCreated, error) {
	date, err := timeparse.Parse(cmd.RawDate)
	if err != nil {
		return models.LobbyCreated{}, err
	}
	if cmd.Size <= 0 {
		return models.LobbyCreated{}, fmt.Errorf("%w: %d", ErrInvalidSize, cmd.Size)
	}

	store, err := e.stores.Guild(ctx, cmd.Guild)
	if err != nil {
		return models.LobbyCreated{}, err
	}

	id, err := newLobbyID()
	if err != nil {
		return models.LobbyCreated{}, err
	}

	lobby := models.Lobby{
		ID:       id,
		Name:     cmd.LobbyName,
		Date:     date,
		Size:     cmd.Size,
		LeaderID: cmd.Requester.ID,
	}
	if err := store.ProvisionLobby(ctx, cmd.Requester, lobby); err != nil {
		return models.LobbyCreated{}, err
	}

	e.logger.Infof("created lobby %d (%s) in %s for %s", id, cmd.LobbyName, cmd.Guild, cmd.Requester.ID)
	e.publish(ctx, events.Event{
		Kind:      events.KindLobbyCreated,
		Guild:     cmd.Guild,
		LobbyID:   id,
		LobbyName: cmd.LobbyName,
		MemberID:  cmd.Requester.ID,
	})

	return models.LobbyCreated{
		ID:    id,
		Name:  cmd.LobbyName,
		Date:  date,
		Size:  cmd.Size,
		Guild: cmd.Guild,
	}, nil
}

// RegisterMember records a member on first observation in a guild. Repeat
// registrations are no-ops.
func (e *Engine) RegisterMember(ctx context.Context, guild string, m models.Member) error {
	store, err := e.stores.Guild(ctx, guild)
	if err != nil {
		return err
	}
	created, err := store.EnsureMember(ctx, m)
	if err != nil {
		return err
	}
	if created {
		e.logger.Debugf("registered member %s (%s) in %s", m.ID, m.Name, guild)
	}
	return nil
}

// List returns summaries for every lobby matching the scope. An empty map
// is a valid, non-error outcome.
func (e *Engine) List(ctx context.Context, guild string, scope models.Scope) (map[int64]models.LobbySummary, error) {
	store, err := e.stores.Guild(ctx, guild)
	if err != nil {
		return nil, err
	}
	return store.SelectLobbies(ctx, scope)
}

// ListByMemberName resolves a display name to a member and lists that
// member's lobbies. An unknown name yields an empty result, not an error.
func (e *Engine) ListByMemberName(ctx context.Context, guild, memberName string) (map[int64]models.LobbySummary, error) {
	store, err := e.stores.Guild(ctx, guild)
	if err != nil {
		return nil, err
	}
	m, err := store.MemberByName(ctx, memberName)
	if errors.Is(err, database.ErrNotFound) {
		return map[int64]models.LobbySummary{}, nil
	}
	if err != nil {
		return nil, err
	}
	return store.SelectLobbies(ctx, models.ScopeMember(m.ID))
}

// LeaveCommand carries one leave request.
type LeaveCommand struct {
	Guild     string
	Requester models.Member
	LobbyName string
}

// Leave removes the requester from a lobby matching the name. Zero matches
// is a NoMatch outcome; one match deletes immediately; several matches open
// a disambiguation session and block until a qualifying selection, expiry,
// or withdrawal. The eventual deletion from the reconciler's point of view
// is unchanged: an emptied lobby is reclaimed by the periodic sweep, not
// inline.
func (e *Engine) Leave(ctx context.Context, cmd LeaveCommand) (models.LeaveOutcome, error) {
	store, err := e.stores.Guild(ctx, cmd.Guild)
	if err != nil {
		return models.LeaveOutcome{}, err
	}

	matches, err := store.SelectLobbies(ctx, models.ScopeNameAndMember(cmd.LobbyName, cmd.Requester.ID))
	if err != nil {
		return models.LeaveOutcome{}, err
	}

	switch len(matches) {
	case 0:
		return models.LeaveOutcome{Status: models.LeaveNoMatch}, nil
	case 1:
		for id, summary := range matches {
			return e.deleteParticipation(ctx, store, cmd, id, summary)
		}
	}
	return e.disambiguate(ctx, store, cmd, matches)
}

// deleteParticipation removes the requester's row and maps the affected-row
// count onto the outcome. Count zero means the row was already gone.
func (e *Engine) deleteParticipation(ctx context.Context, store Store, cmd LeaveCommand, lobbyID int64, summary models.LobbySummary) (models.LeaveOutcome, error) {
	count, err := store.DeleteParticipant(ctx, lobbyID, cmd.Requester.ID)
	if err != nil {
		return models.LeaveOutcome{}, err
	}
	if count == 0 {
		return models.LeaveOutcome{Status: models.LeaveNoMatch}, nil
	}

	e.publish(ctx, events.Event{
		Kind:      events.KindParticipantLeft,
		Guild:     cmd.Guild,
		LobbyID:   lobbyID,
		LobbyName: summary.Name,
		MemberID:  cmd.Requester.ID,
	})
	return models.LeaveOutcome{
		Status:  models.LeaveLeft,
		LobbyID: lobbyID,
		Summary: summary,
	}, nil
}

// disambiguate runs the interactive selection protocol over 2+ matches.
// While awaiting the selection no store lock or transaction is held, so a
// concurrent leave may win the race; the stale selection then reports
// NoMatch rather than miscounting.
func (e *Engine) disambiguate(ctx context.Context, store Store, cmd LeaveCommand, matches map[int64]models.LobbySummary) (models.LeaveOutcome, error) {
	ids := make([]int64, 0, len(matches))
	for id := range matches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	candidates := make([]session.Candidate, len(ids))
	for i, id := range ids {
		candidates[i] = session.Candidate{LobbyID: id, Summary: matches[id]}
	}

	sess := session.New(cmd.Requester.ID, cmd.LobbyName, e.systemID, candidates, e.logger)

	handle, err := e.interactor.IssuePrompt(ctx, cmd.Guild, sess.Prompt())
	if err != nil {
		sess.Cancel()
		e.logger.Warnf("failed to issue disambiguation prompt: %v", err)
		return models.LeaveOutcome{Status: models.LeaveCancelled}, nil
	}
	if err := e.interactor.AttachSelectors(ctx, cmd.Guild, handle, sess.Selectors()); err != nil {
		sess.Cancel()
		e.logger.Warnf("failed to attach selectors: %v", err)
		return models.LeaveOutcome{Status: models.LeaveCancelled}, nil
	}

	sess.Arm(handle.ID, e.sessionTTL)

	waitCtx, cancel := context.WithTimeout(ctx, e.sessionTTL)
	defer cancel()

	ev, err := e.interactor.AwaitSelection(waitCtx, cmd.Guild, handle, sess.Matches)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			sess.Expire()
			return models.LeaveOutcome{Status: models.LeaveExpired}, nil
		}
		sess.Cancel()
		e.logger.Infof("disambiguation session %s withdrawn: %v", sess.ID, err)
		return models.LeaveOutcome{Status: models.LeaveCancelled}, nil
	}

	cand, ok := sess.Resolve(ev)
	if !ok {
		// The session left the Open state while the event was in flight.
		if sess.State() == session.StateExpired {
			return models.LeaveOutcome{Status: models.LeaveExpired}, nil
		}
		return models.LeaveOutcome{Status: models.LeaveCancelled}, nil
	}

	outcome, err := e.deleteParticipation(ctx, store, cmd, cand.LobbyID, cand.Summary)
	if err != nil {
		return models.LeaveOutcome{}, err
	}

	if err := e.interactor.UpdatePrompt(ctx, cmd.Guild, handle, outcome); err != nil {
		e.logger.Warnf("failed to update prompt %s: %v", handle.ID, err)
	}
	return outcome, nil
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warnf("failed to publish %s event: %v", ev.Kind, err)
	}
}

// newLobbyID draws a random 63-bit token. The high bit stays clear so the
// id survives a round trip through a signed BIGINT column.
func newLobbyID() (int64, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to generate lobby id: %w", err)
		}
		id := int64(binary.BigEndian.Uint64(buf[:]) >> 1)
		if id != 0 {
			return id, nil
		}
	}
}

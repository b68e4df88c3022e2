// Package session implements the short-lived disambiguation protocol used
// when a leave request matches more than one lobby. A session tracks an
// ordered candidate list and waits for exactly one qualifying selection
// event before the engine resumes the delete.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/viksva/lobbyd/internal/models"
)

// MaxCandidates caps the candidate list at one selector symbol per digit.
// Matches beyond the cap are truncated; the prompt still reports the total.
const MaxCandidates = 10

// State is the session's position in its lifecycle.
type State int

const (
	// StateOpen means the session is awaiting a selection.
	StateOpen State = iota
	// StateResolved means exactly one qualifying selection arrived.
	StateResolved
	// StateExpired means the TTL elapsed with no qualifying selection.
	StateExpired
	// StateCancelled means the external reactor was withdrawn.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateResolved:
		return "resolved"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Candidate is one lobby the requester could pick, with the transient
// request-scoped summary snapshot carried for prompt rendering.
type Candidate struct {
	LobbyID int64
	Summary models.LobbySummary
}

// selectorSymbols are the digit symbols assigned to candidates in order.
// The presentation layer maps these onto number emoji or whatever its
// platform offers.
var selectorSymbols = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// Session is the state machine. All transitions are mutex-guarded and
// happen at most once; late or non-qualifying events leave the state
// untouched.
type Session struct {
	ID        string
	Requester string
	LobbyName string
	IssuedAt  time.Time

	candidates []Candidate
	selectors  []string
	total      int
	systemID   string
	logger     *logrus.Logger

	mu       sync.Mutex
	state    State
	promptID string
	timer    *time.Timer
}

// New builds an open session over the candidates, which must already be in
// presentation order. Lists longer than MaxCandidates are truncated with a
// warning; total is the untruncated match count.
func New(requester, lobbyName, systemID string, candidates []Candidate, logger *logrus.Logger) *Session {
	total := len(candidates)
	if len(candidates) > MaxCandidates {
		logger.Warnf("disambiguation for %s matched %d lobbies named %q, truncating to %d",
			requester, total, lobbyName, MaxCandidates)
		candidates = candidates[:MaxCandidates]
	}

	return &Session{
		ID:         uuid.NewString(),
		Requester:  requester,
		LobbyName:  lobbyName,
		IssuedAt:   time.Now(),
		candidates: candidates,
		selectors:  selectorSymbols[:len(candidates)],
		total:      total,
		systemID:   systemID,
		logger:     logger,
		state:      StateOpen,
	}
}

// Prompt returns the structured candidate prompt for the interaction layer.
func (s *Session) Prompt() models.DisambiguationPrompt {
	summaries := make([]models.LobbySummary, len(s.candidates))
	ids := make([]int64, len(s.candidates))
	for i, c := range s.candidates {
		ids[i] = c.LobbyID
		summaries[i] = c.Summary
	}
	return models.DisambiguationPrompt{
		SessionID:    s.ID,
		Requester:    s.Requester,
		LobbyName:    s.LobbyName,
		Candidates:   ids,
		Summaries:    summaries,
		Selectors:    append([]string(nil), s.selectors...),
		TotalMatches: s.total,
	}
}

// Selectors returns the symbols assigned to this session's candidates.
func (s *Session) Selectors() []string {
	return append([]string(nil), s.selectors...)
}

// Arm binds the issued prompt to the session and starts the expiry timer.
// Selection events are only valid against the bound prompt id.
func (s *Session) Arm(promptID string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptID = promptID
	if ttl > 0 {
		s.timer = time.AfterFunc(ttl, func() {
			if s.Expire() {
				s.logger.Infof("disambiguation session %s expired after %v", s.ID, ttl)
			}
		})
	}
}

// Matches reports whether an event qualifies to resolve this session: it
// targets this session's prompt, carries one of the assigned selector
// symbols, and does not originate from the system account itself.
func (s *Session) Matches(ev models.SelectionEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen || ev.PromptID != s.promptID {
		return false
	}
	if ev.ActorID == s.systemID {
		return false
	}
	for _, sym := range s.selectors {
		if ev.Selector == sym {
			return true
		}
	}
	return false
}

// Resolve transitions Open -> Resolved on a qualifying event and returns
// the selected candidate. Any other event, or an event arriving after the
// session left the Open state, is ignored.
func (s *Session) Resolve(ev models.SelectionEvent) (Candidate, bool) {
	if !s.Matches(ev) {
		return Candidate{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		// Lost the race against expiry or a concurrent event.
		return Candidate{}, false
	}

	for i, sym := range s.selectors {
		if ev.Selector == sym {
			s.state = StateResolved
			s.stopTimer()
			return s.candidates[i], true
		}
	}
	return Candidate{}, false
}

// Expire transitions Open -> Expired. Reports whether this call performed
// the transition.
func (s *Session) Expire() bool {
	return s.transition(StateExpired)
}

// Cancel transitions Open -> Cancelled when the reactor is withdrawn.
func (s *Session) Cancel() bool {
	return s.transition(StateCancelled)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return false
	}
	s.state = to
	s.stopTimer()
	return true
}

// stopTimer assumes the lock is held.
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

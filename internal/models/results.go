// internal/models/results.go
package models

import "time"

// LobbySummary aggregates the render-ready facts about a lobby for the
// presentation layer: attributes, the ordered participant names, and the
// resolved leader name. Formatting (emoji layouts, slot grids) is the
// caller's concern.
type LobbySummary struct {
	Name         string    `json:"name"`
	Date         time.Time `json:"date"`
	Size         int       `json:"size"`
	Leader       string    `json:"leader"`
	Participants []string  `json:"participants"`
}

// LobbyCreated is the structured result of a successful create operation.
type LobbyCreated struct {
	ID    int64     `json:"id"`
	Name  string    `json:"name"`
	Date  time.Time `json:"date"`
	Size  int       `json:"size"`
	Guild string    `json:"guild"`
}

// LeaveStatus classifies the outcome of a leave request.
type LeaveStatus string

const (
	// LeaveLeft means exactly one participation row was removed.
	LeaveLeft LeaveStatus = "left"
	// LeaveNoMatch means no lobby matched, or the matched row was already
	// gone by the time a disambiguation selection arrived.
	LeaveNoMatch LeaveStatus = "no_match"
	// LeaveExpired means the disambiguation session timed out unanswered.
	LeaveExpired LeaveStatus = "expired"
	// LeaveCancelled means the disambiguation session was withdrawn.
	LeaveCancelled LeaveStatus = "cancelled"
)

// LeaveOutcome is the structured result of a leave request. Summary is only
// populated when Status is LeaveLeft.
type LeaveOutcome struct {
	Status  LeaveStatus  `json:"status"`
	LobbyID int64        `json:"lobby_id,omitempty"`
	Summary LobbySummary `json:"summary,omitempty"`
}

// DisambiguationPrompt carries the candidate list presented to a member
// whose leave request matched more than one lobby. Selectors[i] is the
// symbol that picks Candidates[i]. TotalMatches can exceed len(Candidates)
// when the match set was truncated.
type DisambiguationPrompt struct {
	SessionID    string         `json:"session_id"`
	Requester    string         `json:"requester"`
	LobbyName    string         `json:"lobby_name"`
	Candidates   []int64        `json:"candidates"`
	Summaries    []LobbySummary `json:"summaries"`
	Selectors    []string       `json:"selectors"`
	TotalMatches int            `json:"total_matches"`
}

// SelectionEvent is one external reaction to a disambiguation prompt.
type SelectionEvent struct {
	PromptID string `json:"prompt_id"`
	Selector string `json:"selector"`
	ActorID  string `json:"actor_id"`
}

// ScopeKind selects the filter combination for a lobby listing.
type ScopeKind int

const (
	// ScopeAll lists every lobby in the guild.
	ScopeAll ScopeKind = iota
	// ScopeByMember lists the lobbies a member participates in.
	ScopeByMember
	// ScopeByNameAndMember narrows ScopeByMember to a lobby name.
	ScopeByNameAndMember
)

// Scope is a validated listing filter. Use the constructors rather than
// building the struct directly so the kind and fields stay consistent.
type Scope struct {
	Kind     ScopeKind
	MemberID string
	Name     string
}

// ScopeAllLobbies matches every lobby.
func ScopeAllLobbies() Scope { return Scope{Kind: ScopeAll} }

// ScopeMember matches lobbies the given member participates in.
func ScopeMember(memberID string) Scope {
	return Scope{Kind: ScopeByMember, MemberID: memberID}
}

// ScopeNameAndMember matches lobbies of the given name the member
// participates in.
func ScopeNameAndMember(name, memberID string) Scope {
	return Scope{Kind: ScopeByNameAndMember, MemberID: memberID, Name: name}
}

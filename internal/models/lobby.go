// internal/models/lobby.go
package models

import "time"

// Lobby represents a row in the lobbies table. The ID is an unforgeable
// random 64-bit token generated at creation time, not a sequence.
//
// LeaderID is the authoritative leader pointer. Older data sets carried the
// leader id on every participation row instead; see Participation.LeaderID.
type Lobby struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Size     int       `json:"size"`
	LeaderID string    `json:"leader_id"`
}

// Participation is a join row linking one member to one lobby. RowID is a
// surrogate sequence key; it doubles as the explicit ordering column for
// participant listings and legacy leader resolution.
type Participation struct {
	RowID    int64  `json:"row_id"`
	MemberID string `json:"member_id"`
	LobbyID  int64  `json:"lobby_id"`
	LeaderID string `json:"leader_id"`
}

package models

// Member represents a row in the members table. Members are created on first
// observation in a guild and never mutated by this service afterwards.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

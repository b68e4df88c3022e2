// internal/database/lobby.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/viksva/lobbyd/internal/models"
)

// ProvisionLobby creates the requester (if unknown), the lobby row, and the
// initial participation row in a single transaction, so a concurrent reader
// sees either all three or none. The requester becomes leader both on the
// lobby row and on its participation row.
func (s *Store) ProvisionLobby(ctx context.Context, requester models.Member, lobby models.Lobby) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := fmt.Sprintf(`INSERT INTO %s.members (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING`, s.schema)
		if _, err := tx.Exec(ctx, q, requester.ID, requester.Name); err != nil {
			return fmt.Errorf("failed to ensure requester: %w", err)
		}

		q = fmt.Sprintf(`INSERT INTO %s.lobbies (id, name, date, size, leader_id)
			VALUES ($1, $2, $3, $4, $5)`, s.schema)
		if _, err := tx.Exec(ctx, q, lobby.ID, lobby.Name, lobby.Date, lobby.Size, requester.ID); err != nil {
			return fmt.Errorf("failed to insert lobby: %w", err)
		}

		q = fmt.Sprintf(`INSERT INTO %s.participations (member_id, lobby_id, leader_id)
			VALUES ($1, $2, $3)`, s.schema)
		if _, err := tx.Exec(ctx, q, requester.ID, lobby.ID, requester.ID); err != nil {
			return fmt.Errorf("failed to insert participation: %w", err)
		}
		return nil
	})
}

// HasNoLeader reports whether the lobby has zero participation rows. This is
// the sole liveness criterion the reconciler acts on: a lobby whose leader
// row is gone but which still has participants is not reclaimed.
func (s *Store) HasNoLeader(ctx context.Context, lobbyID int64) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM %s.participations WHERE lobby_id = $1 LIMIT 1`, s.schema)

	var tmp int
	err := s.pool.QueryRow(ctx, q, lobbyID).Scan(&tmp)
	if err == pgx.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check lobby liveness: %w", err)
	}
	return false, nil
}

// SelectLobbies gathers summaries for every lobby matching the scope:
// all lobbies, lobbies a member participates in, or lobbies matching both a
// name and a member.
//
// Leader resolution: the lobby row's leader_id is authoritative. Legacy rows
// imported from the old per-participation leader layout may have an empty
// lobby leader; for those the participation rows are walked in row_id order
// and the last recorded leader wins.
func (s *Store) SelectLobbies(ctx context.Context, scope models.Scope) (map[int64]models.LobbySummary, error) {
	var (
		q    string
		args []interface{}
	)
	switch scope.Kind {
	case models.ScopeByMember:
		q = fmt.Sprintf(`SELECT DISTINCT l.id, l.name, l.date, l.size, l.leader_id
			FROM %s.lobbies l
			JOIN %s.participations p ON p.lobby_id = l.id
			WHERE p.member_id = $1`, s.schema, s.schema)
		args = []interface{}{scope.MemberID}
	case models.ScopeByNameAndMember:
		q = fmt.Sprintf(`SELECT DISTINCT l.id, l.name, l.date, l.size, l.leader_id
			FROM %s.lobbies l
			JOIN %s.participations p ON p.lobby_id = l.id
			WHERE l.name = $1 AND p.member_id = $2`, s.schema, s.schema)
		args = []interface{}{scope.Name, scope.MemberID}
	default:
		q = fmt.Sprintf(`SELECT id, name, date, size, leader_id FROM %s.lobbies`, s.schema)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select lobbies: %w", err)
	}
	defer rows.Close()

	var lobbies []models.Lobby
	for rows.Next() {
		var l models.Lobby
		if err := rows.Scan(&l.ID, &l.Name, &l.Date, &l.Size, &l.LeaderID); err != nil {
			return nil, fmt.Errorf("failed to scan lobby: %w", err)
		}
		lobbies = append(lobbies, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lobbies: %w", err)
	}

	summaries := make(map[int64]models.LobbySummary, len(lobbies))
	for _, l := range lobbies {
		summary, err := s.summarize(ctx, l)
		if err != nil {
			return nil, err
		}
		summaries[l.ID] = summary
	}
	return summaries, nil
}

// summarize fills in the ordered participant names and the resolved leader
// name for one lobby.
func (s *Store) summarize(ctx context.Context, l models.Lobby) (models.LobbySummary, error) {
	q := fmt.Sprintf(`SELECT m.name, p.leader_id
		FROM %s.participations p
		JOIN %s.members m ON m.id = p.member_id
		WHERE p.lobby_id = $1
		ORDER BY p.row_id`, s.schema, s.schema)

	rows, err := s.pool.Query(ctx, q, l.ID)
	if err != nil {
		return models.LobbySummary{}, fmt.Errorf("failed to select participants: %w", err)
	}
	defer rows.Close()

	summary := models.LobbySummary{
		Name: l.Name,
		Date: l.Date,
		Size: l.Size,
	}
	var lastRowLeader string
	for rows.Next() {
		var name, rowLeader string
		if err := rows.Scan(&name, &rowLeader); err != nil {
			return models.LobbySummary{}, fmt.Errorf("failed to scan participant: %w", err)
		}
		summary.Participants = append(summary.Participants, name)
		if rowLeader != "" {
			lastRowLeader = rowLeader
		}
	}
	if err := rows.Err(); err != nil {
		return models.LobbySummary{}, fmt.Errorf("failed to iterate participants: %w", err)
	}

	leaderID := l.LeaderID
	if leaderID == "" {
		leaderID = lastRowLeader
	}
	if leaderID != "" {
		leaderName, err := s.memberName(ctx, leaderID)
		if err != nil {
			return models.LobbySummary{}, err
		}
		summary.Leader = leaderName
	}
	return summary, nil
}

// DeleteParticipant removes the participation row for the member/lobby pair
// and returns the affected-row count. Zero means the row was already gone;
// callers use that to detect stale disambiguation selections.
func (s *Store) DeleteParticipant(ctx context.Context, lobbyID int64, memberID string) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s.participations
		WHERE lobby_id = $1 AND member_id = $2`, s.schema)

	tag, err := s.pool.Exec(ctx, q, lobbyID, memberID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete participant: %w", err)
	}
	s.logger.Debugf("removed member %s from lobby %d (%d rows)", memberID, lobbyID, tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// DeleteLobby removes the lobby and any participation rows still pointing at
// it in one transaction, so a no-lobby-but-has-rows state cannot be
// observed.
func (s *Store) DeleteLobby(ctx context.Context, lobbyID int64) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := fmt.Sprintf(`DELETE FROM %s.participations WHERE lobby_id = $1`, s.schema)
		if _, err := tx.Exec(ctx, q, lobbyID); err != nil {
			return fmt.Errorf("failed to delete participations: %w", err)
		}
		q = fmt.Sprintf(`DELETE FROM %s.lobbies WHERE id = $1`, s.schema)
		if _, err := tx.Exec(ctx, q, lobbyID); err != nil {
			return fmt.Errorf("failed to delete lobby: %w", err)
		}
		return nil
	})
}

package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Team is a numbered slot group inside a lobby. MaxPlayers nil means unlimited.
type Team struct {
	ID         int64     `json:"id"`
	LobbyID    uuid.UUID `json:"lobby_id"`
	Number     int       `json:"number"`
	Name       string    `json:"name"`
	MaxPlayers *int      `json:"max_players"`
}

// DefaultTeamName is the name given to teams created without one.
func DefaultTeamName(number int) string {
	return fmt.Sprintf("Team %d", number)
}

// DisplayName returns the team name or its default.
func (t *Team) DisplayName() string {
	if t.Name == "" {
		return DefaultTeamName(t.Number)
	}
	return t.Name
}

// Full reports whether occupied slots reach the capacity.
func (t *Team) Full(occupied int) bool {
	return t.MaxPlayers != nil && occupied >= *t.MaxPlayers
}

// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Lobby represents a row in the lobbies table.
//
// Exactly one of CreatorAccountID and CreatorToken is set: the former when an
// authenticated account created the lobby, the latter when a guest did.
type Lobby struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Code             string     `json:"code"`
	CreatorAccountID string     `json:"creator_account_id,omitempty"`
	CreatorToken     string     `json:"creator_token,omitempty"`
	Game             string     `json:"game"`
	StartedAt        *time.Time `json:"started_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Started reports whether the lobby has been launched.
func (l *Lobby) Started() bool {
	return l.StartedAt != nil
}

// CreatedBy is the display token of the lobby creator.
func (l *Lobby) CreatedBy() string {
	if l.CreatorToken != "" {
		return l.CreatorToken
	}
	if l.CreatorAccountID != "" {
		return AccountUserID(l.CreatorAccountID)
	}
	return ""
}

// EffectiveGame returns the selected game, falling back to the default one.
func (l *Lobby) EffectiveGame() string {
	if l.Game == "" {
		return DefaultGame
	}
	return l.Game
}

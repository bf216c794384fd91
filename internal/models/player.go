package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// accountPrefix marks user ids derived from an account id.
const accountPrefix = "account_"

// AccountUserID is the public id used for players and creators that are backed by an account.
func AccountUserID(accountID string) string {
	return accountPrefix + accountID
}

// Player is a lobby roster entry. Exactly one of AccountID and GuestID is set.
type Player struct {
	ID        int64     `json:"id"`
	LobbyID   uuid.UUID `json:"lobby_id"`
	AccountID string    `json:"account_id,omitempty"`
	GuestID   string    `json:"guest_id,omitempty"`
	Username  string    `json:"username"`
	Team      int       `json:"team"`
	CreatedAt time.Time `json:"created_at"`
}

// UserID is the identifier clients see for this player.
func (p *Player) UserID() string {
	if p.GuestID != "" {
		return p.GuestID
	}
	if p.AccountID != "" {
		return AccountUserID(p.AccountID)
	}
	return strconv.FormatInt(p.ID, 10)
}

// GuestSession is the singular guest membership remembered for a browser session.
type GuestSession struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Team      int    `json:"team"`
	LobbyCode string `json:"lobby_code"`
}

// Package broadcast fans lobby state changes out to subscribed clients.
package broadcast

import (
	"strings"

	"github.com/jason-s-yu/teamlobby/internal/models"
)

// Kind names an event on the wire.
type Kind string

const (
	KindRosterUpdated Kind = "lobby.roster-updated"
	KindPlayerJoined  Kind = "lobby.player-joined"
	KindPlayerRemoved Kind = "lobby.player-removed"
	KindStarted       Kind = "lobby.started"

	// Presence bookkeeping emitted by the Hub itself.
	KindMemberAdded           Kind = "presence.member-added"
	KindMemberRemoved         Kind = "presence.member-removed"
	KindSubscriptionSucceeded Kind = "subscription.succeeded"
	KindSubscriptionError     Kind = "subscription.error"
	KindPong                  Kind = "pong"
)

// Channel name prefixes accepted from clients using the Pusher/Echo convention.
const (
	presencePrefix = "presence-"
	privatePrefix  = "private-"
)

// PublicChannel is the channel anyone may listen on for a lobby's roster.
func PublicChannel(code string) string { return "lobby." + code + ".public" }

// PresenceChannel is the authorized channel carrying membership and lifecycle events.
func PresenceChannel(code string) string { return "lobby." + code }

// ParseChannel normalises a channel name and extracts its lobby code.
// presence reports whether the channel requires authorization.
func ParseChannel(name string) (canonical, code string, presence, ok bool) {
	trimmed := name
	for _, p := range []string{presencePrefix, privatePrefix} {
		if strings.HasPrefix(trimmed, p) {
			trimmed = strings.TrimPrefix(trimmed, p)
			break
		}
	}
	rest, found := strings.CutPrefix(trimmed, "lobby.")
	if !found || rest == "" {
		return "", "", false, false
	}
	if c, public := strings.CutSuffix(rest, ".public"); public {
		if c == "" || strings.Contains(c, ".") {
			return "", "", false, false
		}
		return PublicChannel(c), c, false, true
	}
	if strings.Contains(rest, ".") {
		return "", "", false, false
	}
	return PresenceChannel(rest), rest, true, true
}

// Event is a single outbound message. LobbyCode scopes its ordering.
type Event struct {
	Kind      Kind   `json:"event"`
	Channel   string `json:"channel"`
	LobbyCode string `json:"-"`
	Payload   any    `json:"data"`
}

// RosterEntry is one player as clients see it.
type RosterEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Team     int    `json:"team"`
}

type RosterPayload struct {
	Players []RosterEntry `json:"players"`
}

type PlayerJoinedPayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Team      int    `json:"team"`
	LobbyCode string `json:"lobbyCode"`
}

type PlayerRemovedPayload struct {
	UserID    string `json:"userId"`
	LobbyCode string `json:"lobbyCode"`
}

type StartedPayload struct {
	LobbyCode string `json:"lobbyCode"`
	Game      string `json:"game"`
	URL       string `json:"url"`
}

// Entries maps an ordered roster to its wire form, keeping the order.
func Entries(players []models.Player) []RosterEntry {
	out := make([]RosterEntry, 0, len(players))
	for i := range players {
		out = append(out, RosterEntry{
			UserID:   players[i].UserID(),
			Username: players[i].Username,
			Team:     players[i].Team,
		})
	}
	return out
}

func RosterUpdated(code string, players []models.Player) Event {
	return Event{
		Kind:      KindRosterUpdated,
		Channel:   PublicChannel(code),
		LobbyCode: code,
		Payload:   RosterPayload{Players: Entries(players)},
	}
}

func PlayerJoined(code string, p models.Player) Event {
	return Event{
		Kind:      KindPlayerJoined,
		Channel:   PresenceChannel(code),
		LobbyCode: code,
		Payload: PlayerJoinedPayload{
			UserID:    p.UserID(),
			Username:  p.Username,
			Team:      p.Team,
			LobbyCode: code,
		},
	}
}

func PlayerRemoved(code, userID string) Event {
	return Event{
		Kind:      KindPlayerRemoved,
		Channel:   PresenceChannel(code),
		LobbyCode: code,
		Payload:   PlayerRemovedPayload{UserID: userID, LobbyCode: code},
	}
}

func LobbyStarted(code, game, url string) Event {
	return Event{
		Kind:      KindStarted,
		Channel:   PresenceChannel(code),
		LobbyCode: code,
		Payload:   StartedPayload{LobbyCode: code, Game: game, URL: url},
	}
}

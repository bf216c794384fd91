// Package view shapes lobby state into the JSON documents the pages load on first render.
// Live updates after that arrive through the broadcast channels named in each page.
package view

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jason-s-yu/teamlobby/internal/broadcast"
	"github.com/jason-s-yu/teamlobby/internal/models"
)

// PlayerView is one roster row as clients see it.
type PlayerView struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Team     int    `json:"team"`
}

type TeamView struct {
	Number     int          `json:"number"`
	Name       string       `json:"name"`
	MaxPlayers *int         `json:"maxPlayers"`
	Full       bool         `json:"full"`
	Players    []PlayerView `json:"players"`
}

type Channels struct {
	Public   string `json:"public"`
	Presence string `json:"presence"`
}

type LobbyView struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Code             string       `json:"code"`
	Players          []PlayerView `json:"players"`
	Teams            []TeamView   `json:"teams"`
	CreatedBy        string       `json:"createdBy,omitempty"`
	CanManagePlayers bool         `json:"canManagePlayers"`
	Game             string       `json:"game"`
	StartedAt        *time.Time   `json:"startedAt"`
	StartedAgo       string       `json:"startedAgo,omitempty"`
}

// LobbyPage is the baseline document for GET /lobby/{code}.
type LobbyPage struct {
	Lobby         LobbyView       `json:"lobby"`
	GameInfo      models.GameInfo `json:"gameInfo"`
	CurrentPlayer *PlayerView     `json:"currentPlayer"`
	Channels      Channels        `json:"channels"`
}

type GameLobby struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Code  string `json:"code"`
}

// GamePage is the document for GET /lobby/{code}/games/{game}.
type GamePage struct {
	Lobby         GameLobby    `json:"lobby"`
	Players       []PlayerView `json:"players"`
	CurrentPlayer *PlayerView  `json:"currentPlayer"`
	Game          string       `json:"game"`
	Channels      Channels     `json:"channels"`
}

type DashboardEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	Created   string    `json:"created"`
}

type Dashboard struct {
	Lobbies []DashboardEntry `json:"lobbies"`
}

func players(roster []models.Player) []PlayerView {
	out := make([]PlayerView, 0, len(roster))
	for i := range roster {
		out = append(out, PlayerView{
			UserID:   roster[i].UserID(),
			Username: roster[i].Username,
			Team:     roster[i].Team,
		})
	}
	return out
}

func channels(code string) Channels {
	return Channels{Public: broadcast.PublicChannel(code), Presence: broadcast.PresenceChannel(code)}
}

// CurrentPlayer picks who the viewer is: the session's guest membership for this lobby
// wins, then the viewer's account row.
func CurrentPlayer(lobby *models.Lobby, guest *models.GuestSession, accountPlayer *models.Player) *PlayerView {
	if guest != nil && guest.LobbyCode == lobby.Code {
		return &PlayerView{UserID: guest.UserID, Username: guest.Username, Team: guest.Team}
	}
	if accountPlayer != nil {
		return &PlayerView{UserID: accountPlayer.UserID(), Username: accountPlayer.Username, Team: accountPlayer.Team}
	}
	return nil
}

// BuildLobby assembles the lobby page. teams and roster must already be ordered.
func BuildLobby(lobby *models.Lobby, teams []models.Team, roster []models.Player, current *PlayerView, canManage bool, info models.GameInfo) LobbyPage {
	all := players(roster)
	teamViews := make([]TeamView, 0, len(teams))
	for i := range teams {
		t := &teams[i]
		members := []PlayerView{}
		for _, p := range all {
			if p.Team == t.Number {
				members = append(members, p)
			}
		}
		teamViews = append(teamViews, TeamView{
			Number:     t.Number,
			Name:       t.DisplayName(),
			MaxPlayers: t.MaxPlayers,
			Full:       t.Full(len(members)),
			Players:    members,
		})
	}

	lv := LobbyView{
		ID:               lobby.ID.String(),
		Title:            lobby.Title,
		Code:             lobby.Code,
		Players:          all,
		Teams:            teamViews,
		CreatedBy:        lobby.CreatedBy(),
		CanManagePlayers: canManage,
		Game:             lobby.EffectiveGame(),
		StartedAt:        lobby.StartedAt,
	}
	if lobby.StartedAt != nil {
		lv.StartedAgo = humanize.Time(*lobby.StartedAt)
	}

	return LobbyPage{
		Lobby:         lv,
		GameInfo:      info,
		CurrentPlayer: current,
		Channels:      channels(lobby.Code),
	}
}

func BuildGame(lobby *models.Lobby, roster []models.Player, current *PlayerView, game string) GamePage {
	return GamePage{
		Lobby:         GameLobby{ID: lobby.ID.String(), Title: lobby.Title, Code: lobby.Code},
		Players:       players(roster),
		CurrentPlayer: current,
		Game:          game,
		Channels:      channels(lobby.Code),
	}
}

func BuildDashboard(lobbies []models.Lobby) Dashboard {
	entries := make([]DashboardEntry, 0, len(lobbies))
	for i := range lobbies {
		l := &lobbies[i]
		entries = append(entries, DashboardEntry{
			ID:        l.ID.String(),
			Title:     l.Title,
			Code:      l.Code,
			CreatedAt: l.CreatedAt,
			Created:   humanize.Time(l.CreatedAt),
		})
	}
	return Dashboard{Lobbies: entries}
}

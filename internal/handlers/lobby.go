// internal/handlers/lobby.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jason-s-yu/teamlobby/internal/lobby"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/jason-s-yu/teamlobby/internal/view"
	"github.com/sirupsen/logrus"
)

// Dashboard lists the most recent lobbies.
func (s *Server) Dashboard(w http.ResponseWriter, r *http.Request) {
	lobbies, err := s.lobbies.Recent(r.Context(), lobby.DefaultRecentLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view.BuildDashboard(lobbies))
}

type createLobbyRequest struct {
	Title string `json:"title"`
}

// CreateLobby makes a lobby owned by the caller and answers with its page.
func (s *Server) CreateLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if err := decodeBody(r, &req, func(get func(string) string) { req.Title = get("title") }); err != nil {
		badRequest(w, "bad lobby request payload")
		return
	}
	rc, err := s.identify(w, r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	l, err := s.lobbies.CreateLobby(r.Context(), rc.caller, rc.sess, req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.lobbyPage(r.Context(), l, rc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/lobby/"+l.Code)
	writeJSON(w, http.StatusCreated, page)
}

// loadLobby resolves {code} and the caller. It writes the error response itself.
func (s *Server) loadLobby(w http.ResponseWriter, r *http.Request) (*models.Lobby, *requestContext, bool) {
	l, err := s.lobbies.Lookup(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, false
	}
	rc, err := s.identify(w, r, l.Code)
	if err != nil {
		s.writeError(w, r, err)
		return nil, nil, false
	}
	return l, rc, true
}

// currentPlayer finds the viewer's seat: session guest first, then account row.
func (s *Server) currentPlayer(ctx context.Context, l *models.Lobby, rc *requestContext) (*view.PlayerView, error) {
	guest, err := session.GuestFor(ctx, rc.sess, l.Code)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"lobby": l.Code, "error": err}).Warn("failed to read guest session")
		guest = nil
	}
	accountPlayer, err := s.lobbies.PlayerForAccount(ctx, l, rc.accountID)
	if err != nil {
		return nil, err
	}
	return view.CurrentPlayer(l, guest, accountPlayer), nil
}

func (s *Server) lobbyPage(ctx context.Context, l *models.Lobby, rc *requestContext) (*view.LobbyPage, error) {
	info, ok := models.LookupGame(l.EffectiveGame())
	if !ok {
		info = models.Games[models.DefaultGame]
	}
	if err := s.lobbies.EnsureDefaultTeams(ctx, l, info.DefaultTeamCount(), info.TeamMaxSize); err != nil {
		return nil, err
	}
	teams, err := s.lobbies.Teams(ctx, l)
	if err != nil {
		return nil, err
	}
	roster, err := s.lobbies.Roster(ctx, l)
	if err != nil {
		return nil, err
	}
	current, err := s.currentPlayer(ctx, l, rc)
	if err != nil {
		return nil, err
	}
	page := view.BuildLobby(l, teams, roster, current, s.lobbies.IsHost(ctx, l, rc.caller, rc.sess), info)
	return &page, nil
}

// ShowLobby returns the lobby page baseline.
func (s *Server) ShowLobby(w http.ResponseWriter, r *http.Request) {
	l, rc, ok := s.loadLobby(w, r)
	if !ok {
		return
	}
	page, err := s.lobbyPage(r.Context(), l, rc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type joinRequest struct {
	Username string `json:"username"`
	Team     int    `json:"team"`
}

type joinResponse struct {
	Player view.PlayerView `json:"player"`
}

// JoinTeam seats the caller on a team.
func (s *Server) JoinTeam(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	err := decodeBody(r, &req, func(get func(string) string) {
		req.Username = get("username")
		req.Team, _ = strconv.Atoi(get("team"))
	})
	if err != nil {
		badRequest(w, "bad join request payload")
		return
	}
	l, rc, ok := s.loadLobby(w, r)
	if !ok {
		return
	}
	p, err := s.lobbies.JoinTeam(r.Context(), l, rc.caller, rc.sess, req.Username, req.Team)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{Player: view.PlayerView{UserID: p.UserID(), Username: p.Username, Team: p.Team}})
}

type teamResponse struct {
	Team view.TeamView `json:"team"`
}

// AddTeam appends a team to the lobby.
func (s *Server) AddTeam(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.loadLobby(w, r)
	if !ok {
		return
	}
	t, err := s.lobbies.AddTeam(r.Context(), l)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, teamResponse{Team: view.TeamView{
		Number:     t.Number,
		Name:       t.DisplayName(),
		MaxPlayers: t.MaxPlayers,
		Players:    []view.PlayerView{},
	}})
}

type removeRequest struct {
	UserID string `json:"user_id"`
}

// RemovePlayer kicks a player. Host only.
func (s *Server) RemovePlayer(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := decodeBody(r, &req, func(get func(string) string) { req.UserID = get("user_id") }); err != nil {
		badRequest(w, "bad remove request payload")
		return
	}
	if req.UserID == "" {
		req.UserID = r.URL.Query().Get("user_id")
	}
	l, rc, ok := s.loadLobby(w, r)
	if !ok {
		return
	}
	if err := s.lobbies.RemovePlayer(r.Context(), l, rc.caller, rc.sess, req.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startRequest struct {
	Game string `json:"game"`
}

type startResponse struct {
	Lobby     view.GameLobby `json:"lobby"`
	Game      string         `json:"game"`
	URL       string         `json:"url"`
	StartedAt *time.Time     `json:"startedAt"`
}

// StartLobby launches the game. Host only.
func (s *Server) StartLobby(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req, func(get func(string) string) { req.Game = get("game") }); err != nil {
		badRequest(w, "bad start request payload")
		return
	}
	l, rc, ok := s.loadLobby(w, r)
	if !ok {
		return
	}
	started, err := s.lobbies.StartLobby(r.Context(), l, rc.caller, rc.sess, req.Game)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	game := started.EffectiveGame()
	resp := startResponse{
		Lobby:     view.GameLobby{ID: started.ID.String(), Title: started.Title, Code: started.Code},
		Game:      game,
		URL:       s.lobbies.GameURL(started.Code, game),
		StartedAt: started.StartedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

// ShowGame returns the game session page. Unknown games are 404.
func (s *Server) ShowGame(w http.ResponseWriter, r *http.Request) {
	game := mux.Vars(r)["game"]
	if _, known := models.LookupGame(game); !known {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "game not found"})
		return
	}
	l, rc, ok := s.loadLobby(w, r)
	if !ok {
		return
	}
	roster, err := s.lobbies.Roster(r.Context(), l)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	current, err := s.currentPlayer(r.Context(), l, rc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view.BuildGame(l, roster, current, game))
}

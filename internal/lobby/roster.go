package lobby

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/teamlobby/internal/broadcast"
	"github.com/jason-s-yu/teamlobby/internal/identity"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/jason-s-yu/teamlobby/internal/store"
	"github.com/sirupsen/logrus"
)

// sessionGuestToken returns the guest token the session holds for this lobby, if any.
func (s *Service) sessionGuestToken(ctx context.Context, lobby *models.Lobby, sess session.Session) string {
	if sess == nil {
		return ""
	}
	g, err := session.GuestFor(ctx, sess, lobby.Code)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"lobby": lobby.Code, "error": err}).Warn("failed to read guest session")
		return ""
	}
	if g == nil {
		return ""
	}
	return g.UserID
}

// JoinTeam seats caller on a team, or moves them if they already have a seat. Accounts are
// keyed by account id; guests by the token their session holds for this lobby.
func (s *Service) JoinTeam(ctx context.Context, lobby *models.Lobby, caller models.Identity, sess session.Session, username string, teamNumber int) (*models.Player, error) {
	name, err := ValidateUsername(username)
	if err != nil {
		return nil, err
	}
	if err := validateTeam(teamNumber); err != nil {
		return nil, err
	}

	info := gameInfo(lobby)
	var guestToken string
	if !caller.IsAccount() {
		guestToken = s.sessionGuestToken(ctx, lobby, sess)
	}

	var (
		joined models.Player
		roster []models.Player
	)
	err = s.withLobby(ctx, lobby.ID, func(q store.Queries) error {
		if err := ensureTeams(ctx, q, lobby.ID, info.DefaultTeamCount(), info.TeamMaxSize); err != nil {
			return err
		}
		team, err := q.TeamByNumber(ctx, lobby.ID, teamNumber)
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "team", Key: fmt.Sprint(teamNumber)}
		}
		if err != nil {
			return fmt.Errorf("failed to load team: %w", err)
		}

		var existing *models.Player
		switch {
		case caller.IsAccount():
			existing, err = q.PlayerByAccount(ctx, lobby.ID, caller.ID)
		case guestToken != "":
			existing, err = q.PlayerByGuest(ctx, lobby.ID, guestToken)
		}
		if errors.Is(err, store.ErrNotFound) {
			existing, err = nil, nil
		}
		if err != nil {
			return fmt.Errorf("failed to load player: %w", err)
		}

		var self int64
		if existing != nil {
			self = existing.ID
		}
		occupied, err := q.CountTeamPlayers(ctx, lobby.ID, team.Number, self)
		if err != nil {
			return fmt.Errorf("failed to count team players: %w", err)
		}
		if team.Full(occupied) {
			return &CapacityError{Field: "team", Message: "team is full"}
		}

		switch {
		case caller.IsAccount():
			joined = models.Player{LobbyID: lobby.ID, AccountID: caller.ID, Username: name, Team: team.Number}
			if err := q.UpsertAccountPlayer(ctx, &joined); err != nil {
				return fmt.Errorf("failed to save player: %w", err)
			}
		case existing != nil:
			existing.Username = name
			existing.Team = team.Number
			if err := q.UpdatePlayer(ctx, existing); err != nil {
				return fmt.Errorf("failed to update player: %w", err)
			}
			joined = *existing
		default:
			joined = models.Player{LobbyID: lobby.ID, GuestID: identity.NewGuestToken(), Username: name, Team: team.Number}
			if err := q.InsertPlayer(ctx, &joined); err != nil {
				return fmt.Errorf("failed to add player: %w", err)
			}
		}

		roster, err = q.Players(ctx, lobby.ID)
		if err != nil {
			return fmt.Errorf("failed to load roster: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if joined.GuestID != "" && sess != nil {
		g := models.GuestSession{UserID: joined.GuestID, Username: joined.Username, Team: joined.Team, LobbyCode: lobby.Code}
		if err := identity.RememberGuest(ctx, sess, g); err != nil {
			s.logger.WithFields(logrus.Fields{"lobby": lobby.Code, "user": joined.UserID(), "error": err}).Error("failed to persist guest session")
		}
	}

	s.events.Emit(broadcast.PlayerJoined(lobby.Code, joined))
	s.events.Emit(broadcast.RosterUpdated(lobby.Code, roster))

	s.logger.WithFields(logrus.Fields{
		"lobby": lobby.Code,
		"user":  joined.UserID(),
		"team":  joined.Team,
	}).Info("player joined team")
	return &joined, nil
}

// RemovePlayer kicks the player with the given public user id. Host only.
func (s *Service) RemovePlayer(ctx context.Context, lobby *models.Lobby, requester models.Identity, sess session.Session, targetUserID string) error {
	if !s.IsHost(ctx, lobby, requester, sess) {
		return &ForbiddenError{Action: "remove players"}
	}
	if targetUserID == "" {
		return &ValidationError{Field: "user_id", Message: "user_id is required"}
	}

	var roster []models.Player
	err := s.withLobby(ctx, lobby.ID, func(q store.Queries) error {
		p, err := store.PlayerByUserID(ctx, q, lobby.ID, targetUserID)
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "player", Key: targetUserID}
		}
		if err != nil {
			return fmt.Errorf("failed to load player: %w", err)
		}
		if err := q.DeletePlayer(ctx, lobby.ID, p.ID); err != nil {
			return fmt.Errorf("failed to remove player: %w", err)
		}
		roster, err = q.Players(ctx, lobby.ID)
		if err != nil {
			return fmt.Errorf("failed to load roster: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Emit(broadcast.PlayerRemoved(lobby.Code, targetUserID))
	s.events.Emit(broadcast.RosterUpdated(lobby.Code, roster))

	if s.sessionGuestToken(ctx, lobby, sess) == targetUserID {
		if err := identity.ForgetGuest(ctx, sess); err != nil {
			s.logger.WithFields(logrus.Fields{"lobby": lobby.Code, "error": err}).Warn("failed to clear guest session")
		}
	}

	s.logger.WithFields(logrus.Fields{"lobby": lobby.Code, "user": targetUserID}).Info("player removed")
	return nil
}

// StartLobby launches the game. The first start fixes game and start time; later calls
// keep them but still re-announce the start so late clients can follow the link.
func (s *Service) StartLobby(ctx context.Context, lobby *models.Lobby, requester models.Identity, sess session.Session, game string) (*models.Lobby, error) {
	if !s.IsHost(ctx, lobby, requester, sess) {
		return nil, &ForbiddenError{Action: "start the game"}
	}
	current, err := s.repo.LobbyByID(ctx, lobby.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lobby: %w", err)
	}
	if current.Started() {
		// The stored game wins; whatever was requested now is ignored.
		game = current.EffectiveGame()
	} else {
		if game == "" {
			game = current.EffectiveGame()
		}
		if _, ok := models.LookupGame(game); !ok {
			return nil, &ValidationError{Field: "game", Message: "unknown game"}
		}
	}

	var changed bool
	err = s.withLobby(ctx, lobby.ID, func(q store.Queries) error {
		var err error
		changed, err = q.MarkStarted(ctx, lobby.ID, game, s.now())
		if err != nil {
			return fmt.Errorf("failed to start lobby: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.LobbyByID(ctx, lobby.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload lobby: %w", err)
	}
	effective := updated.EffectiveGame()
	s.events.Emit(broadcast.LobbyStarted(updated.Code, effective, s.GameURL(updated.Code, effective)))

	s.logger.WithFields(logrus.Fields{
		"lobby":     updated.Code,
		"game":      effective,
		"first_run": changed,
	}).Info("lobby started")
	return updated, nil
}

// Package lobby is the roster engine: it creates lobbies, seats players on teams under
// capacity limits, checks host authority and emits real-time events after every change.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/teamlobby/internal/broadcast"
	"github.com/jason-s-yu/teamlobby/internal/identity"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/jason-s-yu/teamlobby/internal/store"
	"github.com/sirupsen/logrus"
)

// DefaultRecentLimit is how many lobbies the dashboard lists.
const DefaultRecentLimit = 20

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Emitter accepts events for asynchronous delivery. Emit must not block.
type Emitter interface {
	Emit(ev broadcast.Event)
}

// Service coordinates every roster mutation. Mutations of one lobby are serialised by a
// per-lobby mutex plus a repository transaction.
type Service struct {
	repo      store.Repository
	events    Emitter
	logger    *logrus.Logger
	locks     *lockTable
	publicURL string

	now     func() time.Time
	newCode func() string
}

// NewService wires the roster engine. publicURL prefixes the game links sent on start.
func NewService(repo store.Repository, events Emitter, logger *logrus.Logger, publicURL string) *Service {
	return &Service{
		repo:      repo,
		events:    events,
		logger:    logger,
		locks:     newLockTable(),
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       func() time.Time { return time.Now().UTC() },
		newCode:   generateCode,
	}
}

func generateCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(code)
}

// withLobby runs fn as one serialised unit for the lobby.
func (s *Service) withLobby(ctx context.Context, lobbyID uuid.UUID, fn func(q store.Queries) error) error {
	unlock := s.locks.Lock(lobbyID)
	defer unlock()
	return s.repo.InTx(ctx, lobbyID, fn)
}

func gameInfo(lobby *models.Lobby) models.GameInfo {
	if info, ok := models.LookupGame(lobby.EffectiveGame()); ok {
		return info
	}
	return models.Games[models.DefaultGame]
}

// uniqueCode draws codes until one is free. There is no attempt cap; the code space is
// large enough that collisions stay rare.
func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code := s.newCode()
		exists, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check lobby code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
}

// CreateLobby persists a new lobby owned by caller and seeds its default teams. Guest
// creators get a creator token remembered in their session.
func (s *Service) CreateLobby(ctx context.Context, caller models.Identity, sess session.Session, title string) (*models.Lobby, error) {
	title, err := ValidateTitle(title)
	if err != nil {
		return nil, err
	}

	lobby := &models.Lobby{Title: title, Game: models.DefaultGame}
	if caller.IsAccount() {
		lobby.CreatorAccountID = caller.ID
	} else {
		lobby.CreatorToken = identity.NewCreatorToken()
	}

	for {
		code, err := s.uniqueCode(ctx)
		if err != nil {
			return nil, err
		}
		lobby.Code = code
		err = s.repo.CreateLobby(ctx, lobby)
		if errors.Is(err, store.ErrConflict) {
			// Lost a race for the code; draw again.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create lobby: %w", err)
		}
		break
	}

	if lobby.CreatorToken != "" {
		if err := identity.RememberCreator(ctx, sess, lobby.Code, lobby.CreatorToken); err != nil {
			return nil, err
		}
	}

	info := gameInfo(lobby)
	if err := s.EnsureDefaultTeams(ctx, lobby, info.DefaultTeamCount(), info.TeamMaxSize); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"lobby":   lobby.Code,
		"creator": lobby.CreatedBy(),
	}).Info("lobby created")
	return lobby, nil
}

// EnsureDefaultTeams creates teams 1..count when the lobby has none. It is a no-op otherwise.
func (s *Service) EnsureDefaultTeams(ctx context.Context, lobby *models.Lobby, count int, maxPlayers *int) error {
	return s.withLobby(ctx, lobby.ID, func(q store.Queries) error {
		return ensureTeams(ctx, q, lobby.ID, count, maxPlayers)
	})
}

func ensureTeams(ctx context.Context, q store.Queries, lobbyID uuid.UUID, count int, maxPlayers *int) error {
	existing, err := q.CountTeams(ctx, lobbyID)
	if err != nil {
		return fmt.Errorf("failed to count teams: %w", err)
	}
	if existing > 0 {
		return nil
	}
	for n := 1; n <= count; n++ {
		team := &models.Team{
			LobbyID:    lobbyID,
			Number:     n,
			Name:       models.DefaultTeamName(n),
			MaxPlayers: copyInt(maxPlayers),
		}
		if err := q.InsertTeam(ctx, team); err != nil {
			return fmt.Errorf("failed to create team %d: %w", n, err)
		}
	}
	return nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// AddTeam appends the next numbered team, bounded by the game's team limit.
func (s *Service) AddTeam(ctx context.Context, lobby *models.Lobby) (*models.Team, error) {
	info := gameInfo(lobby)
	var team *models.Team
	err := s.withLobby(ctx, lobby.ID, func(q store.Queries) error {
		if err := ensureTeams(ctx, q, lobby.ID, info.DefaultTeamCount(), info.TeamMaxSize); err != nil {
			return err
		}
		count, err := q.CountTeams(ctx, lobby.ID)
		if err != nil {
			return fmt.Errorf("failed to count teams: %w", err)
		}
		if info.MaxTeams > 0 && count >= info.MaxTeams {
			return &CapacityError{Field: "teams", Message: "team limit reached"}
		}
		highest, err := q.MaxTeamNumber(ctx, lobby.ID)
		if err != nil {
			return fmt.Errorf("failed to read team numbers: %w", err)
		}
		team = &models.Team{
			LobbyID:    lobby.ID,
			Number:     highest + 1,
			Name:       models.DefaultTeamName(highest + 1),
			MaxPlayers: copyInt(info.TeamMaxSize),
		}
		if err := q.InsertTeam(ctx, team); err != nil {
			return fmt.Errorf("failed to add team: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// IsHost reports whether requester may manage the lobby: the creating account, or the
// session that holds the lobby's creator token.
func (s *Service) IsHost(ctx context.Context, lobby *models.Lobby, requester models.Identity, sess session.Session) bool {
	if lobby.CreatorAccountID != "" {
		return requester.IsAccount() && requester.ID == lobby.CreatorAccountID
	}
	if lobby.CreatorToken != "" {
		token, ok := identity.CreatorToken(ctx, sess, lobby.Code)
		return ok && token == lobby.CreatorToken
	}
	return false
}

// Lookup finds a lobby by its join code. Codes are matched case-insensitively.
func (s *Service) Lookup(ctx context.Context, code string) (*models.Lobby, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	lobby, err := s.repo.LobbyByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "lobby", Key: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lobby %s: %w", code, err)
	}
	return lobby, nil
}

// Roster lists players ordered by team then join order.
func (s *Service) Roster(ctx context.Context, lobby *models.Lobby) ([]models.Player, error) {
	players, err := s.repo.Players(ctx, lobby.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	return players, nil
}

// Teams lists teams ordered by number.
func (s *Service) Teams(ctx context.Context, lobby *models.Lobby) ([]models.Team, error) {
	teams, err := s.repo.Teams(ctx, lobby.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load teams: %w", err)
	}
	return teams, nil
}

// Recent lists the newest lobbies first. limit <= 0 uses DefaultRecentLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.Lobby, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	lobbies, err := s.repo.RecentLobbies(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lobbies: %w", err)
	}
	return lobbies, nil
}

// PlayerForAccount returns the account's roster row, or nil if it has none.
func (s *Service) PlayerForAccount(ctx context.Context, lobby *models.Lobby, accountID string) (*models.Player, error) {
	if accountID == "" {
		return nil, nil
	}
	p, err := s.repo.PlayerByAccount(ctx, lobby.ID, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load player: %w", err)
	}
	return p, nil
}

// GameURL is the absolute link to a lobby's game session.
func (s *Service) GameURL(code, game string) string {
	return fmt.Sprintf("%s/lobby/%s/games/%s", s.publicURL, code, game)
}

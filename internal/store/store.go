// Package store defines the lobby repository contract consumed by the roster engine.
// Implementations never apply business rules; they only read and write rows.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/teamlobby/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("store: conflict")
)

// Queries are the team and player operations available both outside and inside a transaction.
// Every list is returned in a deterministic order: teams by number, players by team then id.
type Queries interface {
	Teams(ctx context.Context, lobbyID uuid.UUID) ([]models.Team, error)
	TeamByNumber(ctx context.Context, lobbyID uuid.UUID, number int) (*models.Team, error)
	CountTeams(ctx context.Context, lobbyID uuid.UUID) (int, error)
	MaxTeamNumber(ctx context.Context, lobbyID uuid.UUID) (int, error)
	InsertTeam(ctx context.Context, team *models.Team) error

	Players(ctx context.Context, lobbyID uuid.UUID) ([]models.Player, error)
	PlayerByAccount(ctx context.Context, lobbyID uuid.UUID, accountID string) (*models.Player, error)
	PlayerByGuest(ctx context.Context, lobbyID uuid.UUID, guestID string) (*models.Player, error)
	// CountTeamPlayers counts occupants of a team, ignoring the row with id excludeID (0 ignores nothing).
	CountTeamPlayers(ctx context.Context, lobbyID uuid.UUID, team int, excludeID int64) (int, error)
	// UpsertAccountPlayer inserts or updates the row keyed by (lobby, account) and fills in ID.
	UpsertAccountPlayer(ctx context.Context, player *models.Player) error
	InsertPlayer(ctx context.Context, player *models.Player) error
	UpdatePlayer(ctx context.Context, player *models.Player) error
	DeletePlayer(ctx context.Context, lobbyID uuid.UUID, playerID int64) error

	// MarkStarted sets game and started_at only if the lobby was not started yet.
	// It reports whether the row changed.
	MarkStarted(ctx context.Context, lobbyID uuid.UUID, game string, at time.Time) (bool, error)
}

// Repository is the durable store of lobbies, teams and players.
type Repository interface {
	Queries

	// CreateLobby persists a new lobby, assigning ID and CreatedAt when unset.
	// A duplicate code yields ErrConflict.
	CreateLobby(ctx context.Context, lobby *models.Lobby) error
	LobbyByCode(ctx context.Context, code string) (*models.Lobby, error)
	LobbyByID(ctx context.Context, id uuid.UUID) (*models.Lobby, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	RecentLobbies(ctx context.Context, limit int) ([]models.Lobby, error)

	// InTx runs fn in one transactional unit scoped to a lobby. Implementations lock the
	// lobby row (or equivalent) so concurrent units for the same lobby serialize.
	InTx(ctx context.Context, lobbyID uuid.UUID, fn func(q Queries) error) error

	Close() error
}

// PlayerByUserID finds a player by the public id clients see (guest token or account_<id>).
func PlayerByUserID(ctx context.Context, q Queries, lobbyID uuid.UUID, userID string) (*models.Player, error) {
	players, err := q.Players(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	for i := range players {
		if players[i].UserID() == userID {
			return &players[i], nil
		}
	}
	return nil, ErrNotFound
}

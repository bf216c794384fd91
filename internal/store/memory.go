package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/teamlobby/internal/models"
)

// Memory keeps lobbies in process memory. It is used by tests and by the
// "memory" storage driver for local development.
type Memory struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]*models.Lobby
	codes   map[string]uuid.UUID
	teams   map[uuid.UUID][]models.Team
	players map[uuid.UUID][]models.Player

	nextTeamID   int64
	nextPlayerID int64
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		lobbies: make(map[uuid.UUID]*models.Lobby),
		codes:   make(map[string]uuid.UUID),
		teams:   make(map[uuid.UUID][]models.Team),
		players: make(map[uuid.UUID][]models.Player),
	}
}

// memQueries implements Queries on the store without locking; callers hold m.mu.
type memQueries struct{ m *Memory }

func (m *Memory) CreateLobby(ctx context.Context, lobby *models.Lobby) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.codes[lobby.Code]; exists {
		return ErrConflict
	}
	if lobby.ID == uuid.Nil {
		lobby.ID = uuid.New()
	}
	if lobby.CreatedAt.IsZero() {
		lobby.CreatedAt = time.Now().UTC()
	}
	cp := *lobby
	m.lobbies[lobby.ID] = &cp
	m.codes[lobby.Code] = lobby.ID
	return nil
}

func (m *Memory) LobbyByCode(ctx context.Context, code string) (*models.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.lobbies[id]
	return &cp, nil
}

func (m *Memory) LobbyByID(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) CodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.codes[code]
	return ok, nil
}

func (m *Memory) RecentLobbies(ctx context.Context, limit int) ([]models.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Lobby, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		out = append(out, *l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InTx holds the store lock for the whole unit, so units never interleave.
// There is no rollback: fn must validate before it writes.
func (m *Memory) InTx(ctx context.Context, lobbyID uuid.UUID, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lobbies[lobbyID]; !ok {
		return ErrNotFound
	}
	return fn(memQueries{m})
}

func (m *Memory) Close() error { return nil }

// The Queries methods on Memory lock and delegate to memQueries.

func (m *Memory) Teams(ctx context.Context, lobbyID uuid.UUID) ([]models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.Teams(ctx, lobbyID)
}

func (m *Memory) TeamByNumber(ctx context.Context, lobbyID uuid.UUID, number int) (*models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.TeamByNumber(ctx, lobbyID, number)
}

func (m *Memory) CountTeams(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.CountTeams(ctx, lobbyID)
}

func (m *Memory) MaxTeamNumber(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.MaxTeamNumber(ctx, lobbyID)
}

func (m *Memory) InsertTeam(ctx context.Context, team *models.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.InsertTeam(ctx, team)
}

func (m *Memory) Players(ctx context.Context, lobbyID uuid.UUID) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.Players(ctx, lobbyID)
}

func (m *Memory) PlayerByAccount(ctx context.Context, lobbyID uuid.UUID, accountID string) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.PlayerByAccount(ctx, lobbyID, accountID)
}

func (m *Memory) PlayerByGuest(ctx context.Context, lobbyID uuid.UUID, guestID string) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.PlayerByGuest(ctx, lobbyID, guestID)
}

func (m *Memory) CountTeamPlayers(ctx context.Context, lobbyID uuid.UUID, team int, excludeID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.CountTeamPlayers(ctx, lobbyID, team, excludeID)
}

func (m *Memory) UpsertAccountPlayer(ctx context.Context, player *models.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.UpsertAccountPlayer(ctx, player)
}

func (m *Memory) InsertPlayer(ctx context.Context, player *models.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.InsertPlayer(ctx, player)
}

func (m *Memory) UpdatePlayer(ctx context.Context, player *models.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.UpdatePlayer(ctx, player)
}

func (m *Memory) DeletePlayer(ctx context.Context, lobbyID uuid.UUID, playerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.DeletePlayer(ctx, lobbyID, playerID)
}

func (m *Memory) MarkStarted(ctx context.Context, lobbyID uuid.UUID, game string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memQueries{m}.MarkStarted(ctx, lobbyID, game, at)
}

func (q memQueries) Teams(ctx context.Context, lobbyID uuid.UUID) ([]models.Team, error) {
	teams := append([]models.Team(nil), q.m.teams[lobbyID]...)
	sort.SliceStable(teams, func(i, j int) bool { return teams[i].Number < teams[j].Number })
	return teams, nil
}

func (q memQueries) TeamByNumber(ctx context.Context, lobbyID uuid.UUID, number int) (*models.Team, error) {
	for _, t := range q.m.teams[lobbyID] {
		if t.Number == number {
			cp := t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (q memQueries) CountTeams(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	return len(q.m.teams[lobbyID]), nil
}

func (q memQueries) MaxTeamNumber(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	max := 0
	for _, t := range q.m.teams[lobbyID] {
		if t.Number > max {
			max = t.Number
		}
	}
	return max, nil
}

func (q memQueries) InsertTeam(ctx context.Context, team *models.Team) error {
	if _, ok := q.m.lobbies[team.LobbyID]; !ok {
		return ErrNotFound
	}
	for _, t := range q.m.teams[team.LobbyID] {
		if t.Number == team.Number {
			return ErrConflict
		}
	}
	q.m.nextTeamID++
	team.ID = q.m.nextTeamID
	q.m.teams[team.LobbyID] = append(q.m.teams[team.LobbyID], *team)
	return nil
}

func (q memQueries) Players(ctx context.Context, lobbyID uuid.UUID) ([]models.Player, error) {
	players := append([]models.Player(nil), q.m.players[lobbyID]...)
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Team != players[j].Team {
			return players[i].Team < players[j].Team
		}
		return players[i].ID < players[j].ID
	})
	return players, nil
}

func (q memQueries) find(lobbyID uuid.UUID, match func(p *models.Player) bool) (*models.Player, error) {
	for _, p := range q.m.players[lobbyID] {
		if match(&p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (q memQueries) PlayerByAccount(ctx context.Context, lobbyID uuid.UUID, accountID string) (*models.Player, error) {
	return q.find(lobbyID, func(p *models.Player) bool { return p.AccountID != "" && p.AccountID == accountID })
}

func (q memQueries) PlayerByGuest(ctx context.Context, lobbyID uuid.UUID, guestID string) (*models.Player, error) {
	return q.find(lobbyID, func(p *models.Player) bool { return p.GuestID != "" && p.GuestID == guestID })
}

func (q memQueries) CountTeamPlayers(ctx context.Context, lobbyID uuid.UUID, team int, excludeID int64) (int, error) {
	n := 0
	for _, p := range q.m.players[lobbyID] {
		if p.Team == team && p.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (q memQueries) UpsertAccountPlayer(ctx context.Context, player *models.Player) error {
	rows := q.m.players[player.LobbyID]
	for i := range rows {
		if rows[i].AccountID == player.AccountID {
			rows[i].Username = player.Username
			rows[i].Team = player.Team
			*player = rows[i]
			return nil
		}
	}
	return q.InsertPlayer(ctx, player)
}

func (q memQueries) InsertPlayer(ctx context.Context, player *models.Player) error {
	if _, ok := q.m.lobbies[player.LobbyID]; !ok {
		return ErrNotFound
	}
	for _, p := range q.m.players[player.LobbyID] {
		if (player.GuestID != "" && p.GuestID == player.GuestID) ||
			(player.AccountID != "" && p.AccountID == player.AccountID) {
			return ErrConflict
		}
	}
	q.m.nextPlayerID++
	player.ID = q.m.nextPlayerID
	if player.CreatedAt.IsZero() {
		player.CreatedAt = time.Now().UTC()
	}
	q.m.players[player.LobbyID] = append(q.m.players[player.LobbyID], *player)
	return nil
}

func (q memQueries) UpdatePlayer(ctx context.Context, player *models.Player) error {
	rows := q.m.players[player.LobbyID]
	for i := range rows {
		if rows[i].ID == player.ID {
			rows[i].Username = player.Username
			rows[i].Team = player.Team
			return nil
		}
	}
	return ErrNotFound
}

func (q memQueries) DeletePlayer(ctx context.Context, lobbyID uuid.UUID, playerID int64) error {
	rows := q.m.players[lobbyID]
	for i := range rows {
		if rows[i].ID == playerID {
			q.m.players[lobbyID] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (q memQueries) MarkStarted(ctx context.Context, lobbyID uuid.UUID, game string, at time.Time) (bool, error) {
	l, ok := q.m.lobbies[lobbyID]
	if !ok {
		return false, ErrNotFound
	}
	if l.StartedAt != nil {
		return false, nil
	}
	t := at
	l.Game = game
	l.StartedAt = &t
	return true, nil
}

// internal/database/postgres.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/store"
)

// uniqueViolation is the SQLSTATE postgres reports for duplicate keys.
const uniqueViolation = "23505"

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the store.Repository backed by a pgx pool.
type Postgres struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pgQueries: pgQueries{db: pool}, pool: pool}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	ddl, err := schema("postgres.sql")
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func mapPgErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

// CreateLobby inserts a new lobby row.
func (p *Postgres) CreateLobby(ctx context.Context, lobby *models.Lobby) error {
	if lobby.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate lobby id: %w", err)
		}
		lobby.ID = id
	}
	if lobby.CreatedAt.IsZero() {
		lobby.CreatedAt = time.Now().UTC()
	}
	q := `
	INSERT INTO lobbies (id, title, code, creator_account_id, creator_token, game, started_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			lobby.ID,
			lobby.Title,
			lobby.Code,
			nullString(lobby.CreatorAccountID),
			nullString(lobby.CreatorToken),
			lobby.EffectiveGame(),
			lobby.StartedAt,
			lobby.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert lobby: %w", mapPgErr(err))
	}
	return nil
}

const lobbyColumns = `id, title, code, creator_account_id, creator_token, game, started_at, created_at`

func scanLobby(row pgx.Row) (*models.Lobby, error) {
	var (
		l       models.Lobby
		account *string
		token   *string
	)
	err := row.Scan(&l.ID, &l.Title, &l.Code, &account, &token, &l.Game, &l.StartedAt, &l.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	l.CreatorAccountID = deref(account)
	l.CreatorToken = deref(token)
	return &l, nil
}

// LobbyByCode fetches a lobby by its join code.
func (p *Postgres) LobbyByCode(ctx context.Context, code string) (*models.Lobby, error) {
	return scanLobby(p.pool.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE code = $1`, code))
}

// LobbyByID fetches a lobby by ID.
func (p *Postgres) LobbyByID(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	return scanLobby(p.pool.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE id = $1`, id))
}

// CodeExists checks whether a join code is already taken.
func (p *Postgres) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lobbies WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// RecentLobbies returns the newest lobbies first.
func (p *Postgres) RecentLobbies(ctx context.Context, limit int) ([]models.Lobby, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+lobbyColumns+` FROM lobbies ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lobbies []models.Lobby
	for rows.Next() {
		l, err := scanLobby(rows)
		if err != nil {
			return nil, err
		}
		lobbies = append(lobbies, *l)
	}
	return lobbies, rows.Err()
}

// InTx runs fn in a transaction holding a row lock on the lobby.
func (p *Postgres) InTx(ctx context.Context, lobbyID uuid.UUID, fn func(q store.Queries) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM lobbies WHERE id = $1 FOR UPDATE`, lobbyID).Scan(&id)
		if err != nil {
			return mapPgErr(err)
		}
		return fn(pgQueries{db: tx})
	})
}

// pgQueries implements store.Queries on top of a pool or a transaction.
type pgQueries struct {
	db pgQuerier
}

func (q pgQueries) Teams(ctx context.Context, lobbyID uuid.UUID) ([]models.Team, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, lobby_id, number, name, max_players
		FROM teams
		WHERE lobby_id = $1
		ORDER BY number
	`, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

func scanTeam(row pgx.Row) (*models.Team, error) {
	var (
		t    models.Team
		name *string
	)
	if err := row.Scan(&t.ID, &t.LobbyID, &t.Number, &name, &t.MaxPlayers); err != nil {
		return nil, mapPgErr(err)
	}
	t.Name = deref(name)
	return &t, nil
}

func (q pgQueries) TeamByNumber(ctx context.Context, lobbyID uuid.UUID, number int) (*models.Team, error) {
	return scanTeam(q.db.QueryRow(ctx, `
		SELECT id, lobby_id, number, name, max_players
		FROM teams
		WHERE lobby_id = $1 AND number = $2
	`, lobbyID, number))
}

func (q pgQueries) CountTeams(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM teams WHERE lobby_id = $1`, lobbyID).Scan(&n)
	return n, err
}

func (q pgQueries) MaxTeamNumber(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COALESCE(max(number), 0) FROM teams WHERE lobby_id = $1`, lobbyID).Scan(&n)
	return n, err
}

func (q pgQueries) InsertTeam(ctx context.Context, team *models.Team) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO teams (lobby_id, number, name, max_players)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, team.LobbyID, team.Number, nullString(team.Name), team.MaxPlayers).Scan(&team.ID)
	if err != nil {
		return fmt.Errorf("failed to insert team: %w", mapPgErr(err))
	}
	return nil
}

const playerColumns = `id, lobby_id, account_id, guest_id, username, team, created_at`

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var (
		p       models.Player
		account *string
		guest   *string
	)
	if err := row.Scan(&p.ID, &p.LobbyID, &account, &guest, &p.Username, &p.Team, &p.CreatedAt); err != nil {
		return nil, mapPgErr(err)
	}
	p.AccountID = deref(account)
	p.GuestID = deref(guest)
	return &p, nil
}

func (q pgQueries) Players(ctx context.Context, lobbyID uuid.UUID) ([]models.Player, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+playerColumns+`
		FROM lobby_players
		WHERE lobby_id = $1
		ORDER BY team, id
	`, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (q pgQueries) PlayerByAccount(ctx context.Context, lobbyID uuid.UUID, accountID string) (*models.Player, error) {
	return scanPlayer(q.db.QueryRow(ctx, `
		SELECT `+playerColumns+` FROM lobby_players WHERE lobby_id = $1 AND account_id = $2
	`, lobbyID, accountID))
}

func (q pgQueries) PlayerByGuest(ctx context.Context, lobbyID uuid.UUID, guestID string) (*models.Player, error) {
	return scanPlayer(q.db.QueryRow(ctx, `
		SELECT `+playerColumns+` FROM lobby_players WHERE lobby_id = $1 AND guest_id = $2
	`, lobbyID, guestID))
}

func (q pgQueries) CountTeamPlayers(ctx context.Context, lobbyID uuid.UUID, team int, excludeID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM lobby_players WHERE lobby_id = $1 AND team = $2 AND id <> $3
	`, lobbyID, team, excludeID).Scan(&n)
	return n, err
}

func (q pgQueries) UpsertAccountPlayer(ctx context.Context, player *models.Player) error {
	if player.CreatedAt.IsZero() {
		player.CreatedAt = time.Now().UTC()
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO lobby_players (lobby_id, account_id, username, team, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lobby_id, account_id)
		DO UPDATE SET username = EXCLUDED.username, team = EXCLUDED.team
		RETURNING id, created_at
	`, player.LobbyID, player.AccountID, player.Username, player.Team, player.CreatedAt).Scan(&player.ID, &player.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert player: %w", mapPgErr(err))
	}
	return nil
}

func (q pgQueries) InsertPlayer(ctx context.Context, player *models.Player) error {
	if player.CreatedAt.IsZero() {
		player.CreatedAt = time.Now().UTC()
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO lobby_players (lobby_id, account_id, guest_id, username, team, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, player.LobbyID, nullString(player.AccountID), nullString(player.GuestID), player.Username, player.Team, player.CreatedAt).Scan(&player.ID)
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", mapPgErr(err))
	}
	return nil
}

func (q pgQueries) UpdatePlayer(ctx context.Context, player *models.Player) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE lobby_players SET username = $1, team = $2 WHERE id = $3 AND lobby_id = $4
	`, player.Username, player.Team, player.ID, player.LobbyID)
	if err != nil {
		return fmt.Errorf("failed to update player: %w", mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q pgQueries) DeletePlayer(ctx context.Context, lobbyID uuid.UUID, playerID int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM lobby_players WHERE lobby_id = $1 AND id = $2`, lobbyID, playerID)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q pgQueries) MarkStarted(ctx context.Context, lobbyID uuid.UUID, game string, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE lobbies SET game = $1, started_at = $2 WHERE id = $3 AND started_at IS NULL
	`, game, at, lobbyID)
	if err != nil {
		return false, fmt.Errorf("failed to mark lobby started: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

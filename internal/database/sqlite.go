package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the store.Repository backed by an embedded SQLite database.
// Times are stored as unix microseconds.
type SQLite struct {
	sqliteQueries
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	s := &SQLite{sqliteQueries: sqliteQueries{db: db}, db: db}
	ddl, err := schema("sqlite.sql")
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func mapSQLiteErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return store.ErrConflict
		}
	}
	return err
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func (s *SQLite) CreateLobby(ctx context.Context, lobby *models.Lobby) error {
	if lobby.ID == uuid.Nil {
		lobby.ID = uuid.New()
	}
	if lobby.CreatedAt.IsZero() {
		lobby.CreatedAt = time.Now().UTC()
	}
	var started *int64
	if lobby.StartedAt != nil {
		v := toMicros(*lobby.StartedAt)
		started = &v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lobbies (id, title, code, creator_account_id, creator_token, game, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, lobby.ID.String(), lobby.Title, lobby.Code,
		nullString(lobby.CreatorAccountID), nullString(lobby.CreatorToken),
		lobby.EffectiveGame(), started, toMicros(lobby.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert lobby: %w", mapSQLiteErr(err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteLobby(row rowScanner) (*models.Lobby, error) {
	var (
		l       models.Lobby
		id      string
		account sql.NullString
		token   sql.NullString
		started sql.NullInt64
		created int64
	)
	if err := row.Scan(&id, &l.Title, &l.Code, &account, &token, &l.Game, &started, &created); err != nil {
		return nil, mapSQLiteErr(err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid lobby id %q: %w", id, err)
	}
	l.ID = parsed
	l.CreatorAccountID = account.String
	l.CreatorToken = token.String
	if started.Valid {
		t := fromMicros(started.Int64)
		l.StartedAt = &t
	}
	l.CreatedAt = fromMicros(created)
	return &l, nil
}

func (s *SQLite) LobbyByCode(ctx context.Context, code string) (*models.Lobby, error) {
	return scanSQLiteLobby(s.db.QueryRowContext(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE code = ?`, code))
}

func (s *SQLite) LobbyByID(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	return scanSQLiteLobby(s.db.QueryRowContext(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE id = ?`, id.String()))
}

func (s *SQLite) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM lobbies WHERE code = ?)`, code).Scan(&exists)
	return exists, err
}

func (s *SQLite) RecentLobbies(ctx context.Context, limit int) ([]models.Lobby, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+lobbyColumns+` FROM lobbies ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lobbies []models.Lobby
	for rows.Next() {
		l, err := scanSQLiteLobby(rows)
		if err != nil {
			return nil, err
		}
		lobbies = append(lobbies, *l)
	}
	return lobbies, rows.Err()
}

// InTx runs fn inside a transaction. The single pooled connection already
// serializes transactions, which stands in for a row lock.
func (s *SQLite) InTx(ctx context.Context, lobbyID uuid.UUID, fn func(q store.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM lobbies WHERE id = ?`, lobbyID.String()).Scan(&id); err != nil {
		return mapSQLiteErr(err)
	}
	if err := fn(sqliteQueries{db: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// sqliteQueries implements store.Queries on a database or a transaction.
type sqliteQueries struct {
	db sqlQuerier
}

func scanSQLiteTeam(row rowScanner) (*models.Team, error) {
	var (
		t     models.Team
		lobby string
		name  sql.NullString
		max   sql.NullInt64
	)
	if err := row.Scan(&t.ID, &lobby, &t.Number, &name, &max); err != nil {
		return nil, mapSQLiteErr(err)
	}
	id, err := uuid.Parse(lobby)
	if err != nil {
		return nil, fmt.Errorf("invalid lobby id %q: %w", lobby, err)
	}
	t.LobbyID = id
	t.Name = name.String
	if max.Valid {
		v := int(max.Int64)
		t.MaxPlayers = &v
	}
	return &t, nil
}

func (q sqliteQueries) Teams(ctx context.Context, lobbyID uuid.UUID) ([]models.Team, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, lobby_id, number, name, max_players FROM teams WHERE lobby_id = ? ORDER BY number
	`, lobbyID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []models.Team
	for rows.Next() {
		t, err := scanSQLiteTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

func (q sqliteQueries) TeamByNumber(ctx context.Context, lobbyID uuid.UUID, number int) (*models.Team, error) {
	return scanSQLiteTeam(q.db.QueryRowContext(ctx, `
		SELECT id, lobby_id, number, name, max_players FROM teams WHERE lobby_id = ? AND number = ?
	`, lobbyID.String(), number))
}

func (q sqliteQueries) CountTeams(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM teams WHERE lobby_id = ?`, lobbyID.String()).Scan(&n)
	return n, err
}

func (q sqliteQueries) MaxTeamNumber(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(max(number), 0) FROM teams WHERE lobby_id = ?`, lobbyID.String()).Scan(&n)
	return n, err
}

func (q sqliteQueries) InsertTeam(ctx context.Context, team *models.Team) error {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO teams (lobby_id, number, name, max_players) VALUES (?, ?, ?, ?)
	`, team.LobbyID.String(), team.Number, nullString(team.Name), team.MaxPlayers)
	if err != nil {
		return fmt.Errorf("failed to insert team: %w", mapSQLiteErr(err))
	}
	team.ID, err = res.LastInsertId()
	return err
}

func scanSQLitePlayer(row rowScanner) (*models.Player, error) {
	var (
		p       models.Player
		lobby   string
		account sql.NullString
		guest   sql.NullString
		created int64
	)
	if err := row.Scan(&p.ID, &lobby, &account, &guest, &p.Username, &p.Team, &created); err != nil {
		return nil, mapSQLiteErr(err)
	}
	id, err := uuid.Parse(lobby)
	if err != nil {
		return nil, fmt.Errorf("invalid lobby id %q: %w", lobby, err)
	}
	p.LobbyID = id
	p.AccountID = account.String
	p.GuestID = guest.String
	p.CreatedAt = fromMicros(created)
	return &p, nil
}

func (q sqliteQueries) Players(ctx context.Context, lobbyID uuid.UUID) ([]models.Player, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM lobby_players WHERE lobby_id = ? ORDER BY team, id
	`, lobbyID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanSQLitePlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (q sqliteQueries) PlayerByAccount(ctx context.Context, lobbyID uuid.UUID, accountID string) (*models.Player, error) {
	return scanSQLitePlayer(q.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM lobby_players WHERE lobby_id = ? AND account_id = ?
	`, lobbyID.String(), accountID))
}

func (q sqliteQueries) PlayerByGuest(ctx context.Context, lobbyID uuid.UUID, guestID string) (*models.Player, error) {
	return scanSQLitePlayer(q.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM lobby_players WHERE lobby_id = ? AND guest_id = ?
	`, lobbyID.String(), guestID))
}

func (q sqliteQueries) CountTeamPlayers(ctx context.Context, lobbyID uuid.UUID, team int, excludeID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT count(*) FROM lobby_players WHERE lobby_id = ? AND team = ? AND id <> ?
	`, lobbyID.String(), team, excludeID).Scan(&n)
	return n, err
}

func (q sqliteQueries) UpsertAccountPlayer(ctx context.Context, player *models.Player) error {
	if player.CreatedAt.IsZero() {
		player.CreatedAt = time.Now().UTC()
	}
	var created int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO lobby_players (lobby_id, account_id, username, team, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (lobby_id, account_id)
		DO UPDATE SET username = excluded.username, team = excluded.team
		RETURNING id, created_at
	`, player.LobbyID.String(), player.AccountID, player.Username, player.Team, toMicros(player.CreatedAt)).Scan(&player.ID, &created)
	if err != nil {
		return fmt.Errorf("failed to upsert player: %w", mapSQLiteErr(err))
	}
	player.CreatedAt = fromMicros(created)
	return nil
}

func (q sqliteQueries) InsertPlayer(ctx context.Context, player *models.Player) error {
	if player.CreatedAt.IsZero() {
		player.CreatedAt = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO lobby_players (lobby_id, account_id, guest_id, username, team, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, player.LobbyID.String(), nullString(player.AccountID), nullString(player.GuestID),
		player.Username, player.Team, toMicros(player.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", mapSQLiteErr(err))
	}
	player.ID, err = res.LastInsertId()
	return err
}

func (q sqliteQueries) UpdatePlayer(ctx context.Context, player *models.Player) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE lobby_players SET username = ?, team = ? WHERE id = ? AND lobby_id = ?
	`, player.Username, player.Team, player.ID, player.LobbyID.String())
	if err != nil {
		return fmt.Errorf("failed to update player: %w", mapSQLiteErr(err))
	}
	return requireAffected(res)
}

func (q sqliteQueries) DeletePlayer(ctx context.Context, lobbyID uuid.UUID, playerID int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM lobby_players WHERE lobby_id = ? AND id = ?`, lobbyID.String(), playerID)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return requireAffected(res)
}

func (q sqliteQueries) MarkStarted(ctx context.Context, lobbyID uuid.UUID, game string, at time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE lobbies SET game = ?, started_at = ? WHERE id = ? AND started_at IS NULL
	`, game, toMicros(at), lobbyID.String())
	if err != nil {
		return false, fmt.Errorf("failed to mark lobby started: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

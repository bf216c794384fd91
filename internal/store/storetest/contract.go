// Package storetest holds the behaviour every store.Repository implementation must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises repo against the repository contract. newRepo must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, newRepo(t)) })
	t.Run("DuplicateCode", func(t *testing.T) { testDuplicateCode(t, newRepo(t)) })
	t.Run("Teams", func(t *testing.T) { testTeams(t, newRepo(t)) })
	t.Run("RosterOrdering", func(t *testing.T) { testRosterOrdering(t, newRepo(t)) })
	t.Run("AccountUpsert", func(t *testing.T) { testAccountUpsert(t, newRepo(t)) })
	t.Run("CountExcludesRow", func(t *testing.T) { testCountExcludesRow(t, newRepo(t)) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateAndDelete(t, newRepo(t)) })
	t.Run("MarkStartedOnce", func(t *testing.T) { testMarkStartedOnce(t, newRepo(t)) })
	t.Run("RecentLobbies", func(t *testing.T) { testRecentLobbies(t, newRepo(t)) })
	t.Run("InTx", func(t *testing.T) { testInTx(t, newRepo(t)) })
}

func newLobby(t *testing.T, repo store.Repository, code string) *models.Lobby {
	t.Helper()
	l := &models.Lobby{Title: "Lobby " + code, Code: code, CreatorToken: "creator_" + code, Game: models.DefaultGame}
	require.NoError(t, repo.CreateLobby(context.Background(), l))
	require.NotEqual(t, uuid.Nil, l.ID)
	return l
}

func addTeams(t *testing.T, repo store.Repository, lobbyID uuid.UUID, numbers ...int) {
	t.Helper()
	for _, n := range numbers {
		max := 3
		require.NoError(t, repo.InsertTeam(context.Background(), &models.Team{
			LobbyID: lobbyID, Number: n, Name: models.DefaultTeamName(n), MaxPlayers: &max,
		}))
	}
}

func testCreateAndLookup(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	l := newLobby(t, repo, "ABC123")

	byCode, err := repo.LobbyByCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, l.ID, byCode.ID)
	assert.Equal(t, "Lobby ABC123", byCode.Title)
	assert.Equal(t, "creator_ABC123", byCode.CreatorToken)
	assert.Empty(t, byCode.CreatorAccountID)
	assert.Nil(t, byCode.StartedAt)

	byID, err := repo.LobbyByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", byID.Code)

	exists, err := repo.CodeExists(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.CodeExists(ctx, "ZZZ999")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.LobbyByCode(ctx, "ZZZ999")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateCode(t *testing.T, repo store.Repository) {
	newLobby(t, repo, "DUP001")
	err := repo.CreateLobby(context.Background(), &models.Lobby{Title: "x", Code: "DUP001", CreatorToken: "creator_x"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func testTeams(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	l := newLobby(t, repo, "TEAMS1")
	addTeams(t, repo, l.ID, 2, 1, 5)

	teams, err := repo.Teams(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, teams, 3)
	assert.Equal(t, []int{1, 2, 5}, []int{teams[0].Number, teams[1].Number, teams[2].Number})
	require.NotNil(t, teams[0].MaxPlayers)
	assert.Equal(t, 3, *teams[0].MaxPlayers)

	n, err := repo.CountTeams(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	max, err := repo.MaxTeamNumber(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, max)

	team, err := repo.TeamByNumber(ctx, l.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "Team 2", team.Name)

	_, err = repo.TeamByNumber(ctx, l.ID, 3)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.InsertTeam(ctx, &models.Team{LobbyID: l.ID, Number: 2})
	assert.ErrorIs(t, err, store.ErrConflict)

	empty := newLobby(t, repo, "TEAMS2")
	max, err = repo.MaxTeamNumber(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, max)
}

func testRosterOrdering(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	l := newLobby(t, repo, "ORDER1")
	addTeams(t, repo, l.ID, 1, 2)

	for _, p := range []models.Player{
		{LobbyID: l.ID, GuestID: "guest_alice", Username: "Alice", Team: 1},
		{LobbyID: l.ID, GuestID: "guest_bob", Username: "Bob", Team: 2},
		{LobbyID: l.ID, GuestID: "guest_carol", Username: "Carol", Team: 1},
	} {
		require.NoError(t, repo.InsertPlayer(ctx, &p))
		require.NotZero(t, p.ID)
	}

	players, err := repo.Players(ctx, l.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Username)
	}
	assert.Equal(t, []string{"Alice", "Carol", "Bob"}, names)

	p, err := store.PlayerByUserID(ctx, repo, l.ID, "guest_bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", p.Username)

	err = repo.InsertPlayer(ctx, &models.Player{LobbyID: l.ID, GuestID: "guest_bob", Username: "Bob2", Team: 1})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func testAccountUpsert(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	l := newLobby(t, repo, "UPSRT1")
	addTeams(t, repo, l.ID, 1, 2)

	first := &models.Player{LobbyID: l.ID, AccountID: "42", Username: "Dave", Team: 1}
	require.NoError(t, repo.UpsertAccountPlayer(ctx, first))

	second := &models.Player{LobbyID: l.ID, AccountID: "42", Username: "David", Team: 2}
	require.NoError(t, repo.UpsertAccountPlayer(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	players, err := repo.Players(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, "David", players[0].Username)
	assert.Equal(t, 2, players[0].Team)
	assert.Equal(t, "account_42", players[0].UserID())

	found, err := repo.PlayerByAccount(ctx, l.ID, "42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = repo.PlayerByAccount(ctx, l.ID, "43")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCountExcludesRow(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	l := newLobby(t, repo, "COUNT1")
	addTeams(t, repo, l.ID, 1)

	a := &models.Player{LobbyID: l.ID, GuestID: "guest_a", Username: "A", Team: 1}
	b := &models.Player{LobbyID: l.ID, GuestID: "guest_b", Username: "B", Team: 1}
	require.NoError(t, repo.InsertPlayer(ctx, a))
	require.NoError(t, repo.InsertPlayer(ctx, b))

	n, err := repo.CountTeamPlayers(ctx, l.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.CountTeamPlayers(ctx, l.ID, 1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.CountTeamPlayers(ctx, l.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testUpdateAndDelete(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	l := newLobby(t, repo, "UPDEL1")
	addTeams(t, repo, l.ID, 1, 2)

	p := &models.Player{LobbyID: l.ID, GuestID: "guest_eve", Username: "Eve", Team: 1}
	require.NoError(t, repo.InsertPlayer(ctx, p))

	p.Team = 2
	p.Username = "Evelyn"
	require.NoError(t, repo.UpdatePlayer(ctx, p))

	got, err := repo.PlayerByGuest(ctx, l.ID, "guest_eve")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Team)
	assert.Equal(t, "Evelyn", got.Username)

	require.NoError(t, repo.DeletePlayer(ctx, l.ID, p.ID))
	_, err = repo.PlayerByGuest(ctx, l.ID, "guest_eve")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, repo.DeletePlayer(ctx, l.ID, p.ID), store.ErrNotFound)
}

func testMarkStartedOnce(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	l := newLobby(t, repo, "START1")
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	changed, err := repo.MarkStarted(ctx, l.ID, "dushnila", first)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkStarted(ctx, l.ID, "other", first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.LobbyByID(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.True(t, first.Equal(*got.StartedAt))
	assert.Equal(t, "dushnila", got.Game)
}

func testRecentLobbies(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, code := range []string{"OLD001", "MID001", "NEW001"} {
		l := &models.Lobby{Title: code, Code: code, CreatorToken: "creator_" + code, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.CreateLobby(ctx, l))
	}

	lobbies, err := repo.RecentLobbies(ctx, 2)
	require.NoError(t, err)
	require.Len(t, lobbies, 2)
	assert.Equal(t, "NEW001", lobbies[0].Code)
	assert.Equal(t, "MID001", lobbies[1].Code)
}

func testInTx(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	l := newLobby(t, repo, "INTX01")

	err := repo.InTx(ctx, l.ID, func(q store.Queries) error {
		if err := q.InsertTeam(ctx, &models.Team{LobbyID: l.ID, Number: 1}); err != nil {
			return err
		}
		n, err := q.CountTeams(ctx, l.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)

	n, err := repo.CountTeams(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = repo.InTx(ctx, uuid.New(), func(q store.Queries) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

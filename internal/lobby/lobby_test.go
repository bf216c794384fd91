package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/teamlobby/internal/broadcast"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/jason-s-yu/teamlobby/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (mb *mockBroadcaster) Emit(ev broadcast.Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.events = append(mb.events, ev)
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.events = nil
}

func (mb *mockBroadcaster) kinds() []broadcast.Kind {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]broadcast.Kind, 0, len(mb.events))
	for _, ev := range mb.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (mb *mockBroadcaster) last() broadcast.Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.events[len(mb.events)-1]
}

func setupService(t *testing.T) (*Service, *store.Memory, *mockBroadcaster) {
	t.Helper()
	repo := store.NewMemory()
	mb := &mockBroadcaster{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewService(repo, mb, logger, "http://lobby.test/"), repo, mb
}

// hostLobby creates a guest-hosted lobby and returns it with the host's session.
func hostLobby(t *testing.T, svc *Service, mb *mockBroadcaster) (*models.Lobby, session.Session) {
	t.Helper()
	host := session.NewMemory("host")
	l, err := svc.CreateLobby(context.Background(), models.Guest("guest_host", ""), host, "Friday night")
	require.NoError(t, err)
	mb.clear()
	return l, host
}

func rosterNames(t *testing.T, svc *Service, l *models.Lobby) []string {
	t.Helper()
	players, err := svc.Roster(context.Background(), l)
	require.NoError(t, err)
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Username)
	}
	return names
}

func TestCreateLobby(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	sess := session.NewMemory("s")

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		l, err := svc.CreateLobby(ctx, models.Guest("guest_x", ""), sess, fmt.Sprintf("Lobby %d", i))
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Z0-9]{6}$`, l.Code)
		assert.False(t, seen[l.Code], "duplicate code %s", l.Code)
		seen[l.Code] = true
		assert.True(t, strings.HasPrefix(l.CreatorToken, "creator_"))
		assert.Empty(t, l.CreatorAccountID)
		assert.Nil(t, l.StartedAt)
		assert.Equal(t, models.GameDushnila, l.Game)
	}
	assert.Empty(t, mb.kinds(), "creating a lobby emits nothing")

	l, err := svc.CreateLobby(ctx, models.Account("42"), session.NewMemory("acct"), "  <b>Account</b> lobby ")
	require.NoError(t, err)
	assert.Equal(t, "Account lobby", l.Title)
	assert.Equal(t, "42", l.CreatorAccountID)
	assert.Empty(t, l.CreatorToken)

	teams, err := svc.Teams(ctx, l)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	for i, team := range teams {
		assert.Equal(t, i+1, team.Number)
		assert.Equal(t, fmt.Sprintf("Team %d", i+1), team.Name)
		require.NotNil(t, team.MaxPlayers)
		assert.Equal(t, 5, *team.MaxPlayers)
	}
}

func TestCreateLobbyValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	for _, title := range []string{"", "   ", "<script></script>", strings.Repeat("x", 256)} {
		_, err := svc.CreateLobby(ctx, models.Guest("g", ""), session.NewMemory("s"), title)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "title %q", title)
		assert.Equal(t, "title", verr.Field)
	}
	_, err := svc.CreateLobby(ctx, models.Guest("g", ""), session.NewMemory("s"), strings.Repeat("x", 255))
	assert.NoError(t, err)
}

func TestCreateLobbyRedrawsTakenCodes(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateLobby(ctx, &models.Lobby{Title: "taken", Code: "AAAAAA", CreatorToken: "creator_t"}))

	draws := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	svc.newCode = func() string {
		c := draws[0]
		draws = draws[1:]
		return c
	}
	l, err := svc.CreateLobby(ctx, models.Guest("g", ""), session.NewMemory("s"), "Second")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", l.Code)
	assert.Empty(t, draws)
}

func TestEnsureDefaultTeamsIdempotent(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.EnsureDefaultTeams(ctx, l, 4, nil))
	}
	teams, err := svc.Teams(ctx, l)
	require.NoError(t, err)
	assert.Len(t, teams, 2, "existing teams are left alone")
	assert.Zero(t, svc.locks.size(), "lock entries are released")
}

func TestJoinTeamCapacity(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)

	sessions := make([]session.Session, 6)
	for i := range sessions {
		sessions[i] = session.NewMemory(fmt.Sprintf("s%d", i))
	}
	for i := 0; i < 5; i++ {
		_, err := svc.JoinTeam(ctx, l, models.Guest("", ""), sessions[i], fmt.Sprintf("P%d", i), 1)
		require.NoError(t, err)
	}

	_, err := svc.JoinTeam(ctx, l, models.Guest("", ""), sessions[5], "P5", 1)
	var cerr *CapacityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "team", cerr.Field)
	assert.Equal(t, "team is full", cerr.Message)

	// A seated player re-joining their own full team only renames.
	p, err := svc.JoinTeam(ctx, l, models.Guest("", ""), sessions[0], "Renamed", 1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Username)

	// Someone seated elsewhere cannot move into the full team.
	_, err = svc.JoinTeam(ctx, l, models.Guest("", ""), sessions[5], "P5", 2)
	require.NoError(t, err)
	_, err = svc.JoinTeam(ctx, l, models.Guest("", ""), sessions[5], "P5", 1)
	require.ErrorAs(t, err, &cerr)

	assert.Len(t, rosterNames(t, svc, l), 6)
}

func TestJoinTeamConcurrentCapacity(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.JoinTeam(ctx, l, models.Guest("", ""), session.NewMemory(fmt.Sprint(i)), fmt.Sprintf("P%d", i), 1)
			mu.Lock()
			defer mu.Unlock()
			var cerr *CapacityError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &cerr):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
	assert.Equal(t, 15, full)
	assert.Len(t, rosterNames(t, svc, l), 5)
}

func TestJoinTeamGuestRejoinKeepsIdentity(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)
	sess := session.NewMemory("guest")

	first, err := svc.JoinTeam(ctx, l, models.Guest("guest_fresh", ""), sess, "Alice", 1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.GuestID, "guest_"))

	g, err := session.GuestFor(ctx, sess, l.Code)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, models.GuestSession{UserID: first.GuestID, Username: "Alice", Team: 1, LobbyCode: l.Code}, *g)

	second, err := svc.JoinTeam(ctx, l, models.Guest(first.GuestID, "Alice"), sess, "Alice", 2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.GuestID, second.GuestID)
	assert.Equal(t, 2, second.Team)

	players, err := svc.Roster(ctx, l)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, 2, players[0].Team)
}

func TestJoinTeamAccountUpsert(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)

	p1, err := svc.JoinTeam(ctx, l, models.Account("7"), nil, "Bob", 1)
	require.NoError(t, err)
	p2, err := svc.JoinTeam(ctx, l, models.Account("7"), nil, "Bobby", 2)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, "account_7", p2.UserID())

	found, err := svc.PlayerForAccount(ctx, l, "7")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 2, found.Team)
	assert.Equal(t, "Bobby", found.Username)

	none, err := svc.PlayerForAccount(ctx, l, "8")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJoinTeamValidation(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)
	sess := session.NewMemory("g")

	var verr *ValidationError
	_, err := svc.JoinTeam(ctx, l, models.Guest("", ""), sess, "", 1)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "username", verr.Field)

	_, err = svc.JoinTeam(ctx, l, models.Guest("", ""), sess, strings.Repeat("a", 31), 1)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "username", verr.Field)

	_, err = svc.JoinTeam(ctx, l, models.Guest("", ""), sess, "Alice", 0)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "team", verr.Field)

	var nerr *NotFoundError
	_, err = svc.JoinTeam(ctx, l, models.Guest("", ""), sess, "Alice", 9)
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "team", nerr.Resource)

	assert.Empty(t, rosterNames(t, svc, l))
	assert.Empty(t, mb.kinds())
}

func TestJoinTeamEmitsEvents(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)

	p, err := svc.JoinTeam(ctx, l, models.Guest("", ""), session.NewMemory("a"), "Alice", 2)
	require.NoError(t, err)
	require.Equal(t, []broadcast.Kind{broadcast.KindPlayerJoined, broadcast.KindRosterUpdated}, mb.kinds())

	joined := mb.events[0]
	assert.Equal(t, broadcast.PresenceChannel(l.Code), joined.Channel)
	assert.Equal(t, broadcast.PlayerJoinedPayload{UserID: p.GuestID, Username: "Alice", Team: 2, LobbyCode: l.Code}, joined.Payload)

	roster := mb.last()
	assert.Equal(t, broadcast.PublicChannel(l.Code), roster.Channel)
	assert.Equal(t, broadcast.RosterPayload{Players: []broadcast.RosterEntry{{UserID: p.GuestID, Username: "Alice", Team: 2}}}, roster.Payload)
}

func TestRosterOrdering(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)

	_, err := svc.JoinTeam(ctx, l, models.Guest("", ""), session.NewMemory("a"), "Alice", 1)
	require.NoError(t, err)
	_, err = svc.JoinTeam(ctx, l, models.Guest("", ""), session.NewMemory("b"), "Bob", 2)
	require.NoError(t, err)
	_, err = svc.JoinTeam(ctx, l, models.Guest("", ""), session.NewMemory("c"), "Carol", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice", "Carol", "Bob"}, rosterNames(t, svc, l))
	entries := mb.last().Payload.(broadcast.RosterPayload).Players
	require.Len(t, entries, 3)
	assert.Equal(t, "Alice", entries[0].Username)
	assert.Equal(t, "Carol", entries[1].Username)
	assert.Equal(t, "Bob", entries[2].Username)
}

func TestAddTeam(t *testing.T) {
	models.Games["trio"] = models.GameInfo{Title: "trio", MaxTeams: 3}
	t.Cleanup(func() { delete(models.Games, "trio") })

	svc, repo, _ := setupService(t)
	ctx := context.Background()
	l := &models.Lobby{Title: "Trio", Code: "TRIO01", CreatorToken: "creator_t", Game: "trio"}
	require.NoError(t, repo.CreateLobby(ctx, l))

	team, err := svc.AddTeam(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 3, team.Number)
	assert.Equal(t, "Team 3", team.Name)
	assert.Nil(t, team.MaxPlayers)

	_, err = svc.AddTeam(ctx, l)
	var cerr *CapacityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "teams", cerr.Field)
	assert.Equal(t, "team limit reached", cerr.Message)
}

func TestAddTeamDefaultGameLimit(t *testing.T) {
	svc, _, mb := setupService(t)
	l, _ := hostLobby(t, svc, mb)
	_, err := svc.AddTeam(context.Background(), l)
	var cerr *CapacityError
	require.ErrorAs(t, err, &cerr)
}

func TestIsHost(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, host := hostLobby(t, svc, mb)

	assert.True(t, svc.IsHost(ctx, l, models.Guest("anyone", ""), host))
	assert.False(t, svc.IsHost(ctx, l, models.Guest("anyone", ""), session.NewMemory("other")))
	assert.False(t, svc.IsHost(ctx, l, models.Account("1"), nil))

	acct, err := svc.CreateLobby(ctx, models.Account("1"), session.NewMemory("a"), "Mine")
	require.NoError(t, err)
	assert.True(t, svc.IsHost(ctx, acct, models.Account("1"), nil))
	assert.False(t, svc.IsHost(ctx, acct, models.Account("2"), nil))
	assert.False(t, svc.IsHost(ctx, acct, models.Guest("1", ""), session.NewMemory("a")))
}

func TestRemovePlayer(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, host := hostLobby(t, svc, mb)

	aliceSess := session.NewMemory("alice")
	alice, err := svc.JoinTeam(ctx, l, models.Guest("", ""), aliceSess, "Alice", 1)
	require.NoError(t, err)
	_, err = svc.JoinTeam(ctx, l, models.Account("7"), nil, "Bob", 2)
	require.NoError(t, err)
	mb.clear()

	t.Run("non-host is forbidden", func(t *testing.T) {
		err := svc.RemovePlayer(ctx, l, models.Guest(alice.GuestID, ""), aliceSess, alice.GuestID)
		var ferr *ForbiddenError
		require.ErrorAs(t, err, &ferr)
		assert.Equal(t, []string{"Alice", "Bob"}, rosterNames(t, svc, l))
		assert.Empty(t, mb.kinds())
	})

	t.Run("unknown player", func(t *testing.T) {
		err := svc.RemovePlayer(ctx, l, models.Guest("", ""), host, "guest_nobody")
		var nerr *NotFoundError
		require.ErrorAs(t, err, &nerr)
		assert.Empty(t, mb.kinds())
	})

	t.Run("host removes guest", func(t *testing.T) {
		require.NoError(t, svc.RemovePlayer(ctx, l, models.Guest("", ""), host, alice.GuestID))
		assert.Equal(t, []string{"Bob"}, rosterNames(t, svc, l))
		require.Equal(t, []broadcast.Kind{broadcast.KindPlayerRemoved, broadcast.KindRosterUpdated}, mb.kinds())
		assert.Equal(t, broadcast.PlayerRemovedPayload{UserID: alice.GuestID, LobbyCode: l.Code}, mb.events[0].Payload)
		mb.clear()
	})

	t.Run("host removes account", func(t *testing.T) {
		require.NoError(t, svc.RemovePlayer(ctx, l, models.Guest("", ""), host, "account_7"))
		assert.Empty(t, rosterNames(t, svc, l))
		assert.Empty(t, mb.last().Payload.(broadcast.RosterPayload).Players)
	})
}

func TestRemovePlayerClearsOwnGuestSession(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, host := hostLobby(t, svc, mb)

	self, err := svc.JoinTeam(ctx, l, models.Guest("", ""), host, "Host", 1)
	require.NoError(t, err)
	require.NoError(t, svc.RemovePlayer(ctx, l, models.Guest(self.GuestID, ""), host, self.GuestID))

	g, err := session.GuestFor(ctx, host, l.Code)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestStartLobby(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, host := hostLobby(t, svc, mb)

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return first }

	_, err := svc.StartLobby(ctx, l, models.Guest("", ""), session.NewMemory("other"), "")
	var ferr *ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Empty(t, mb.kinds())

	_, err = svc.StartLobby(ctx, l, models.Guest("", ""), host, "chess")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "game", verr.Field)

	started, err := svc.StartLobby(ctx, l, models.Guest("", ""), host, "")
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	assert.True(t, first.Equal(*started.StartedAt))
	assert.Equal(t, models.GameDushnila, started.Game)

	svc.now = func() time.Time { return first.Add(time.Hour) }
	again, err := svc.StartLobby(ctx, started, models.Guest("", ""), host, models.GameDushnila)
	require.NoError(t, err)
	assert.True(t, first.Equal(*again.StartedAt), "start time is set once")

	other, err := svc.StartLobby(ctx, started, models.Guest("", ""), host, "other-game")
	require.NoError(t, err, "a started lobby ignores the requested game")
	assert.Equal(t, models.GameDushnila, other.Game)
	assert.True(t, first.Equal(*other.StartedAt))

	require.Equal(t, []broadcast.Kind{broadcast.KindStarted, broadcast.KindStarted, broadcast.KindStarted}, mb.kinds())
	want := broadcast.StartedPayload{
		LobbyCode: l.Code,
		Game:      models.GameDushnila,
		URL:       "http://lobby.test/lobby/" + l.Code + "/games/dushnila",
	}
	for _, ev := range mb.events {
		assert.Equal(t, want, ev.Payload)
	}
}

func TestLookupAndRecent(t *testing.T) {
	svc, _, mb := setupService(t)
	ctx := context.Background()
	l, _ := hostLobby(t, svc, mb)

	got, err := svc.Lookup(ctx, strings.ToLower(l.Code))
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)

	_, err = svc.Lookup(ctx, "ZZZZZZ")
	var nerr *NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "lobby", nerr.Resource)

	recent, err := svc.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, l.Code, recent[0].Code)
}

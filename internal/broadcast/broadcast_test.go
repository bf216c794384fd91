package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/jason-s-yu/teamlobby/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransport collects published events instead of sending them over WS.
type mockTransport struct {
	mu     sync.Mutex
	events []Event
	delay  time.Duration
}

func (m *mockTransport) Publish(ctx context.Context, ev Event) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockTransport) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestParseChannel(t *testing.T) {
	cases := []struct {
		in        string
		canonical string
		code      string
		presence  bool
		ok        bool
	}{
		{"lobby.ABC123.public", "lobby.ABC123.public", "ABC123", false, true},
		{"lobby.ABC123", "lobby.ABC123", "ABC123", true, true},
		{"presence-lobby.ABC123", "lobby.ABC123", "ABC123", true, true},
		{"private-lobby.ABC123.public", "lobby.ABC123.public", "ABC123", false, true},
		{"lobby.", "", "", false, false},
		{"game.ABC123", "", "", false, false},
		{"lobby.A.B.C", "", "", false, false},
	}
	for _, c := range cases {
		canonical, code, presence, ok := ParseChannel(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.canonical, canonical, c.in)
		assert.Equal(t, c.code, code, c.in)
		assert.Equal(t, c.presence, presence, c.in)
	}
}

func TestEventConstructors(t *testing.T) {
	players := []models.Player{
		{ID: 1, GuestID: "guest_a", Username: "Alice", Team: 1},
		{ID: 2, AccountID: "7", Username: "Bob", Team: 2},
	}
	ev := RosterUpdated("ABC123", players)
	assert.Equal(t, KindRosterUpdated, ev.Kind)
	assert.Equal(t, "lobby.ABC123.public", ev.Channel)
	assert.Equal(t, RosterPayload{Players: []RosterEntry{
		{UserID: "guest_a", Username: "Alice", Team: 1},
		{UserID: "account_7", Username: "Bob", Team: 2},
	}}, ev.Payload)

	started := LobbyStarted("ABC123", "dushnila", "http://x/lobby/ABC123/games/dushnila")
	assert.Equal(t, "lobby.ABC123", started.Channel)
	assert.Equal(t, "dushnila", started.Payload.(StartedPayload).Game)

	removed := PlayerRemoved("ABC123", "guest_a")
	assert.Equal(t, KindPlayerRemoved, removed.Kind)
	assert.Equal(t, "lobby.ABC123", removed.Channel)
}

func TestBroadcasterPreservesOrderPerLobby(t *testing.T) {
	mt := &mockTransport{delay: time.Millisecond}
	b := NewBroadcaster(mt, quietLogger())

	for i := 0; i < 20; i++ {
		b.Emit(PlayerRemoved("AAAAAA", string(rune('a'+i))))
		b.Emit(PlayerRemoved("BBBBBB", string(rune('a'+i))))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))

	perLobby := map[string][]string{}
	for _, ev := range mt.snapshot() {
		perLobby[ev.LobbyCode] = append(perLobby[ev.LobbyCode], ev.Payload.(PlayerRemovedPayload).UserID)
	}
	require.Len(t, perLobby["AAAAAA"], 20)
	require.Len(t, perLobby["BBBBBB"], 20)
	for i := 0; i < 20; i++ {
		assert.Equal(t, string(rune('a'+i)), perLobby["AAAAAA"][i])
		assert.Equal(t, string(rune('a'+i)), perLobby["BBBBBB"][i])
	}

	b.Emit(PlayerRemoved("AAAAAA", "late"))
	assert.Len(t, mt.snapshot(), 40, "events after Close are dropped")
}

func drainOne(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.OutChan:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return Event{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.OutChan:
		t.Fatalf("client %s got unexpected %s", c.ID, ev.Kind)
	default:
	}
}

func TestHubPresence(t *testing.T) {
	h := NewHub(quietLogger())
	channel := PresenceChannel("ABC123")
	a := NewClient("a", 8, quietLogger())
	b := NewClient("b", 8, quietLogger())

	h.Subscribe(a, channel, &Presence{ID: "guest_a", Username: "Alice", Team: 1})
	ack := drainOne(t, a)
	assert.Equal(t, KindSubscriptionSucceeded, ack.Kind)
	assert.Equal(t, MembersPayload{Members: []Presence{{ID: "guest_a", Username: "Alice", Team: 1}}}, ack.Payload)

	h.Subscribe(b, channel, &Presence{ID: "guest_b", Username: "Bob", Team: 2})
	ack = drainOne(t, b)
	assert.Len(t, ack.Payload.(MembersPayload).Members, 2)
	added := drainOne(t, a)
	assert.Equal(t, KindMemberAdded, added.Kind)
	assert.Equal(t, "guest_b", added.Payload.(Presence).ID)
	assertEmpty(t, b)

	require.NoError(t, h.Publish(context.Background(), LobbyStarted("ABC123", "dushnila", "u")))
	assert.Equal(t, KindStarted, drainOne(t, a).Kind)
	assert.Equal(t, KindStarted, drainOne(t, b).Kind)

	h.Remove(b)
	removed := drainOne(t, a)
	assert.Equal(t, KindMemberRemoved, removed.Kind)
	assert.Equal(t, "guest_b", removed.Payload.(Presence).ID)
	assert.Len(t, h.Members(channel), 1)
}

func TestHubPublicChannelHasNoMembers(t *testing.T) {
	h := NewHub(quietLogger())
	channel := PublicChannel("ABC123")
	a := NewClient("a", 8, quietLogger())
	b := NewClient("b", 8, quietLogger())
	h.Subscribe(a, channel, nil)
	h.Subscribe(b, channel, nil)
	assert.Nil(t, drainOne(t, a).Payload)
	assert.Nil(t, drainOne(t, b).Payload)
	assertEmpty(t, a)

	require.NoError(t, h.Publish(context.Background(), RosterUpdated("ABC123", nil)))
	assert.Equal(t, KindRosterUpdated, drainOne(t, a).Kind)
	h.Unsubscribe(a, channel)
	require.NoError(t, h.Publish(context.Background(), RosterUpdated("ABC123", nil)))
	assertEmpty(t, a)
	assert.Equal(t, KindRosterUpdated, drainOne(t, b).Kind)
}

func TestClientWriteMarksLaggedWhenFull(t *testing.T) {
	c := NewClient("c", 1, quietLogger())
	c.Write(Event{Kind: KindStarted})

	select {
	case <-c.Lagged():
		t.Fatal("client lagged before its buffer filled")
	default:
	}

	c.Write(Event{Kind: KindRosterUpdated})
	c.Write(Event{Kind: KindRosterUpdated})

	select {
	case <-c.Lagged():
	default:
		t.Fatal("expected client to be marked lagged")
	}
	assert.Equal(t, KindStarted, drainOne(t, c).Kind)
	assertEmpty(t, c)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	lobby := &models.Lobby{Title: "Friday", Code: "ABC123", CreatorToken: "creator_x"}
	require.NoError(t, repo.CreateLobby(ctx, lobby))
	require.NoError(t, repo.InsertTeam(ctx, &models.Team{LobbyID: lobby.ID, Number: 1, Name: "Team 1"}))
	acct := &models.Player{LobbyID: lobby.ID, AccountID: "7", Username: "Bob", Team: 1}
	require.NoError(t, repo.UpsertAccountPlayer(ctx, acct))

	a := NewAuthorizer(repo, quietLogger())

	t.Run("public channel is open", func(t *testing.T) {
		p, ok, err := a.Authorize(ctx, models.Guest("guest_z", ""), nil, "lobby.ABC123.public")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Nil(t, p)
	})

	t.Run("guest with matching session", func(t *testing.T) {
		sess := session.NewMemory("s1")
		require.NoError(t, sess.Put(ctx, session.KeyGuest, models.GuestSession{UserID: "guest_a", Username: "Alice", Team: 2, LobbyCode: "ABC123"}))
		p, ok, err := a.Authorize(ctx, models.Guest("guest_a", "Alice"), sess, "presence-lobby.ABC123")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, &Presence{ID: "guest_a", Username: "Alice", Team: 2}, p)
	})

	t.Run("guest of another lobby", func(t *testing.T) {
		sess := session.NewMemory("s2")
		require.NoError(t, sess.Put(ctx, session.KeyGuest, models.GuestSession{UserID: "guest_a", Username: "Alice", Team: 1, LobbyCode: "XYZ789"}))
		_, ok, err := a.Authorize(ctx, models.Guest("guest_a", ""), sess, "lobby.ABC123")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("account on roster", func(t *testing.T) {
		p, ok, err := a.Authorize(ctx, models.Account("7"), nil, "lobby.ABC123")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, &Presence{ID: "account_7", Username: "Bob", Team: 1}, p)
	})

	t.Run("account not on roster", func(t *testing.T) {
		_, ok, err := a.Authorize(ctx, models.Account("8"), nil, "lobby.ABC123")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("account for unknown lobby", func(t *testing.T) {
		_, ok, err := a.Authorize(ctx, models.Account("7"), nil, "lobby.NOPE00")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, ok, err := a.Authorize(ctx, models.Account("7"), nil, "game.1")
		assert.ErrorIs(t, err, ErrUnknownChannel)
		assert.False(t, ok)
	})
}

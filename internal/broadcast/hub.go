package broadcast

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Presence is the member info attached to an authorized presence subscription.
type Presence struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Team     int    `json:"team"`
}

type MembersPayload struct {
	Members []Presence `json:"members"`
}

// Client is one live subscriber, usually a websocket connection.
type Client struct {
	ID      string
	OutChan chan Event
	logger  *logrus.Logger

	lagged  chan struct{}
	lagOnce sync.Once
}

func NewClient(id string, buffer int, logger *logrus.Logger) *Client {
	return &Client{ID: id, OutChan: make(chan Event, buffer), logger: logger, lagged: make(chan struct{})}
}

// Write pushes an event onto the client's OutChan without blocking. When the channel is
// full the event cannot be delivered, so the client is marked as lagged and its owner must
// disconnect it; on reconnect the client reloads the lobby state.
func (c *Client) Write(ev Event) {
	select {
	case c.OutChan <- ev:
	default:
		c.lagOnce.Do(func() {
			c.logger.WithFields(logrus.Fields{
				"client":  c.ID,
				"event":   ev.Kind,
				"channel": ev.Channel,
			}).Warn("client out channel full, disconnecting")
			close(c.lagged)
		})
	}
}

// Lagged is closed once the client missed an event.
func (c *Client) Lagged() <-chan struct{} { return c.lagged }

// Hub is the in-process Transport: it tracks which clients listen on which channel and who
// is present on each presence channel.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Client]*Presence
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{subs: make(map[string]map[*Client]*Presence), logger: logger}
}

// Subscribe adds c to channel. A non-nil presence marks c as a member: c receives the
// current member list and the other subscribers learn about the newcomer.
func (h *Hub) Subscribe(c *Client, channel string, presence *Presence) {
	h.mu.Lock()
	clients, ok := h.subs[channel]
	if !ok {
		clients = make(map[*Client]*Presence)
		h.subs[channel] = clients
	}
	alreadyMember := presence != nil && h.hasMemberLocked(channel, presence.ID)
	clients[c] = presence
	members := h.membersLocked(channel)
	others := h.othersLocked(channel, c)
	h.mu.Unlock()

	ack := Event{Kind: KindSubscriptionSucceeded, Channel: channel}
	if presence != nil {
		ack.Payload = MembersPayload{Members: members}
	}
	c.Write(ack)

	if presence != nil && !alreadyMember {
		added := Event{Kind: KindMemberAdded, Channel: channel, Payload: *presence}
		for _, o := range others {
			o.Write(added)
		}
	}
	h.logger.WithFields(logrus.Fields{"client": c.ID, "channel": channel}).Debug("subscribed")
}

// Unsubscribe removes c from channel, announcing the departure when no other connection
// carries the same member id.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	removed := h.unsubscribeLocked(c, channel)
	h.mu.Unlock()
	if removed != nil {
		h.announceLeft(removed)
	}
}

// Remove drops c from every channel, e.g. when its connection closes.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	var departures []departure
	for channel := range h.subs {
		if d := h.unsubscribeLocked(c, channel); d != nil {
			departures = append(departures, *d)
		}
	}
	h.mu.Unlock()
	for i := range departures {
		h.announceLeft(&departures[i])
	}
}

type departure struct {
	channel  string
	presence Presence
	notify   []*Client
}

func (h *Hub) unsubscribeLocked(c *Client, channel string) *departure {
	clients, ok := h.subs[channel]
	if !ok {
		return nil
	}
	presence, subscribed := clients[c]
	if !subscribed {
		return nil
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.subs, channel)
	}
	if presence == nil || h.hasMemberLocked(channel, presence.ID) {
		return nil
	}
	return &departure{channel: channel, presence: *presence, notify: h.othersLocked(channel, c)}
}

func (h *Hub) announceLeft(d *departure) {
	ev := Event{Kind: KindMemberRemoved, Channel: d.channel, Payload: d.presence}
	for _, o := range d.notify {
		o.Write(ev)
	}
}

func (h *Hub) hasMemberLocked(channel, id string) bool {
	for _, p := range h.subs[channel] {
		if p != nil && p.ID == id {
			return true
		}
	}
	return false
}

// membersLocked lists distinct members of channel ordered by id.
func (h *Hub) membersLocked(channel string) []Presence {
	seen := map[string]bool{}
	members := []Presence{}
	for _, p := range h.subs[channel] {
		if p == nil || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		members = append(members, *p)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

func (h *Hub) othersLocked(channel string, self *Client) []*Client {
	var out []*Client
	for c := range h.subs[channel] {
		if c != self {
			out = append(out, c)
		}
	}
	return out
}

// Members returns the distinct members present on a channel.
func (h *Hub) Members(channel string) []Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.membersLocked(channel)
}

// Publish delivers ev to every subscriber of its channel.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.subs[ev.Channel]))
	for c := range h.subs[ev.Channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Write(ev)
	}
	return nil
}

package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/jason-s-yu/teamlobby/internal/store"
	"github.com/sirupsen/logrus"
)

// LobbyReader is the read-only slice of the repository channel authorization needs.
type LobbyReader interface {
	LobbyByCode(ctx context.Context, code string) (*models.Lobby, error)
	PlayerByAccount(ctx context.Context, lobbyID uuid.UUID, accountID string) (*models.Player, error)
}

// Authorizer decides who may subscribe to which channel.
type Authorizer struct {
	lobbies LobbyReader
	logger  *logrus.Logger
}

func NewAuthorizer(lobbies LobbyReader, logger *logrus.Logger) *Authorizer {
	return &Authorizer{lobbies: lobbies, logger: logger}
}

// ErrUnknownChannel is returned for names that do not denote a lobby channel.
var ErrUnknownChannel = errors.New("broadcast: unknown channel")

// Authorize reports whether caller may join channel. Public channels are open and carry no
// presence. Presence channels admit the session's guest for that lobby, or an account that
// has a roster row in it.
func (a *Authorizer) Authorize(ctx context.Context, caller models.Identity, sess session.Session, channel string) (*Presence, bool, error) {
	_, code, presence, ok := ParseChannel(channel)
	if !ok {
		return nil, false, ErrUnknownChannel
	}
	if !presence {
		return nil, true, nil
	}

	if caller.IsGuest() {
		if sess == nil {
			return nil, false, nil
		}
		g, err := session.GuestFor(ctx, sess, code)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read guest session: %w", err)
		}
		if g == nil {
			return nil, false, nil
		}
		return &Presence{ID: g.UserID, Username: g.Username, Team: g.Team}, true, nil
	}

	if caller.IsAccount() {
		lobby, err := a.lobbies.LobbyByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load lobby %s: %w", code, err)
		}
		p, err := a.lobbies.PlayerByAccount(ctx, lobby.ID, caller.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load player: %w", err)
		}
		return &Presence{ID: p.UserID(), Username: p.Username, Team: p.Team}, true, nil
	}

	a.logger.WithField("channel", channel).Debug("denying subscription for empty identity")
	return nil, false, nil
}

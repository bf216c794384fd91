package session

import (
	"context"

	"github.com/jason-s-yu/teamlobby/internal/models"
)

// Keys the roster engine reads and writes.
const (
	// KeyGuest holds the session's single current guest membership (models.GuestSession).
	KeyGuest = "lobby_guest"
	// KeyCreators maps lobby code to the creator token minted for it in this session.
	KeyCreators = "lobby_creators"
)

// Guest returns the stored guest membership, or nil.
func Guest(ctx context.Context, s Session) (*models.GuestSession, error) {
	var g models.GuestSession
	ok, err := s.Get(ctx, KeyGuest, &g)
	if err != nil || !ok {
		return nil, err
	}
	return &g, nil
}

// GuestFor returns the stored guest membership only if it belongs to lobbyCode.
func GuestFor(ctx context.Context, s Session, lobbyCode string) (*models.GuestSession, error) {
	g, err := Guest(ctx, s)
	if err != nil || g == nil || g.LobbyCode != lobbyCode {
		return nil, err
	}
	return g, nil
}

// CreatorTokens returns the lobby code => creator token map (never nil).
func CreatorTokens(ctx context.Context, s Session) (map[string]string, error) {
	creators := map[string]string{}
	if _, err := s.Get(ctx, KeyCreators, &creators); err != nil {
		return map[string]string{}, err
	}
	if creators == nil {
		creators = map[string]string{}
	}
	return creators, nil
}

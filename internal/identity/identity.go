// Package identity derives who a request acts as: an authenticated account, or a guest
// whose token lives in the browser session.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/sirupsen/logrus"
)

// Token prefixes.
const (
	GuestPrefix   = "guest_"
	CreatorPrefix = "creator_"
)

func newToken(prefix string) string {
	// uuid v4 draws 122 bits from crypto/rand.
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewGuestToken mints a guest player token.
func NewGuestToken() string { return newToken(GuestPrefix) }

// NewCreatorToken mints the token proving host authority over a guest-created lobby.
func NewCreatorToken() string { return newToken(CreatorPrefix) }

// Resolver produces identities. It never fails: session problems are logged and the caller
// falls back to a fresh guest identity.
type Resolver struct {
	logger *logrus.Logger
}

func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve returns the account identity when accountID is set, the session's guest identity
// when it belongs to lobbyCode, and otherwise a fresh guest identity that is not persisted
// until the guest joins.
func (r *Resolver) Resolve(ctx context.Context, accountID string, sess session.Session, lobbyCode string) models.Identity {
	if accountID != "" {
		return models.Account(accountID)
	}
	if sess != nil && lobbyCode != "" {
		g, err := session.GuestFor(ctx, sess, lobbyCode)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"session": sess.ID(),
				"lobby":   lobbyCode,
				"error":   err,
			}).Warn("failed to read guest session, issuing a fresh guest identity")
		} else if g != nil {
			return models.Guest(g.UserID, g.Username)
		}
	}
	return models.Guest(NewGuestToken(), "")
}

// RememberGuest records the session's current guest membership, replacing any previous one.
func RememberGuest(ctx context.Context, sess session.Session, g models.GuestSession) error {
	if err := sess.Put(ctx, session.KeyGuest, g); err != nil {
		return fmt.Errorf("remember guest: %w", err)
	}
	return nil
}

// ForgetGuest clears the session's guest membership.
func ForgetGuest(ctx context.Context, sess session.Session) error {
	return sess.Forget(ctx, session.KeyGuest)
}

// RememberCreator adds lobbyCode => token to the session's creator map.
func RememberCreator(ctx context.Context, sess session.Session, lobbyCode, token string) error {
	creators, err := session.CreatorTokens(ctx, sess)
	if err != nil {
		return fmt.Errorf("remember creator: %w", err)
	}
	creators[lobbyCode] = token
	if err := sess.Put(ctx, session.KeyCreators, creators); err != nil {
		return fmt.Errorf("remember creator: %w", err)
	}
	return nil
}

// CreatorToken returns the creator token this session holds for lobbyCode, if any.
func CreatorToken(ctx context.Context, sess session.Session, lobbyCode string) (string, bool) {
	if sess == nil {
		return "", false
	}
	creators, err := session.CreatorTokens(ctx, sess)
	if err != nil {
		return "", false
	}
	token, ok := creators[lobbyCode]
	return token, ok && token != ""
}

package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

// CookieName is the cookie carrying the signed session id.
const CookieName = "lobby_session"

// Manager resolves the session of a request from its signed cookie, issuing a new one when
// the cookie is missing or fails verification.
type Manager struct {
	backend Backend
	codec   *securecookie.SecureCookie
	maxAge  time.Duration
	secure  bool
}

// NewManager signs cookies with hashKey and, when blockKey is non-empty, encrypts them.
func NewManager(backend Backend, hashKey, blockKey []byte, maxAge time.Duration, secure bool) *Manager {
	if len(blockKey) == 0 {
		blockKey = nil
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(maxAge.Seconds()))
	return &Manager{backend: backend, codec: codec, maxAge: maxAge, secure: secure}
}

// Load returns the request's session, setting a fresh cookie on w if needed.
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) (Session, error) {
	if c, err := r.Cookie(CookieName); err == nil {
		var id string
		if err := m.codec.Decode(CookieName, c.Value, &id); err == nil && id != "" {
			return m.backend.Open(id), nil
		}
	}

	id := uuid.NewString()
	encoded, err := m.codec.Encode(CookieName, id)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return m.backend.Open(id), nil
}

// internal/auth/jwt.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie carrying an account token.
const CookieName = "auth_token"

// privateKey and publicKey are used for signing and verifying JWT tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TokenExpiry is how long issued tokens stay valid (0 => no exp claim).
	TokenExpiry time.Duration
)

// ParseTokenExpiry interprets TOKEN_EXPIRE_TIME style values: "", "0" and "never" mean no expiry.
func ParseTokenExpiry(v string) (time.Duration, error) {
	if v == "" || v == "0" || v == "never" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// Init generates a fresh ed25519 key pair at runtime. Tokens issued elsewhere will not
// verify against it; use InitFromPath in production.
func Init(expiry time.Duration) error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	TokenExpiry = expiry
	return nil
}

// InitFromPath reads ed25519 keys from file. The private key is optional: without it the
// service only verifies tokens.
func InitFromPath(privatePath, publicPath string, expiry time.Duration) error {
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	publicKey = ed25519.PublicKey(publicKeyData)

	if privatePath != "" {
		privateKeyData, err := os.ReadFile(privatePath)
		if err != nil {
			return fmt.Errorf("failed to read private key file: %w", err)
		}
		privateKey = ed25519.PrivateKey(privateKeyData)
	}
	TokenExpiry = expiry
	return nil
}

// CreateJWT creates a signed JWT token with "sub" = accountID.
func CreateJWT(accountID string) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("no signing key loaded")
	}
	claims := jwt.MapClaims{
		"sub": accountID,
	}
	if TokenExpiry > 0 {
		claims["exp"] = time.Now().Add(TokenExpiry).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a JWT string, returns the "sub" field if valid, else an error.
func AuthenticateJWT(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}

	accountID, ok := claims["sub"].(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return accountID, nil
}

// AccountFromRequest returns the verified account id carried by the request, from an
// "Authorization: Bearer" header or the auth_token cookie. ok is false for guests and for
// invalid tokens alike.
func AccountFromRequest(r *http.Request) (accountID string, ok bool) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if c, err := r.Cookie(CookieName); err == nil {
		token = c.Value
	}
	if token == "" || publicKey == nil {
		return "", false
	}
	accountID, err := AuthenticateJWT(token)
	if err != nil {
		return "", false
	}
	return accountID, true
}

package gateway

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"callcoach/internal/domain"
)

// expirySkew treats tokens about to expire as already expired so a request
// does not race the server-side check.
const expirySkew = 30 * time.Second

// Credential is the bearer token sent with every request. Tokens that are
// JWTs are checked for expiry locally; the signature is the server's job.
type Credential struct {
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewCredential(token string) Credential {
	token = strings.TrimSpace(token)
	c := Credential{token: token, now: time.Now}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		c.expiresAt = claims.ExpiresAt.Time
	}
	return c
}

func (c Credential) Empty() bool {
	return c.token == ""
}

// ExpiresAt is zero for opaque tokens and JWTs without an exp claim.
func (c Credential) ExpiresAt() time.Time {
	return c.expiresAt
}

// Header returns the Authorization value, or ErrAuthRequired when the token
// has expired.
func (c Credential) Header() (string, error) {
	if c.token == "" {
		return "", nil
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	if !c.expiresAt.IsZero() && !now().Add(expirySkew).Before(c.expiresAt) {
		return "", domain.ErrAuthRequired
	}
	return "Bearer " + c.token, nil
}

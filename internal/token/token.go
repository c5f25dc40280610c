// Package token issues and verifies the session credentials that detection
// collaborators present when submitting events. A token is minted at session
// start, bound to one session, and expires with the exam window, so a
// candidate cannot post events into another attempt.
package token

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ctxSessionClaims = "proctor_session_claims"

// SessionClaims are the JWT claims of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID uuid.UUID `json:"session_id"`
	ExamID    string    `json:"exam_id"`
}

// Issuer signs and verifies session tokens with HS256. The monitor has no
// certificate authority, so a shared service secret stands in for the
// RSA-backed issuer a registry would use.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an Issuer.
//
//	issuerURL — the "iss" claim value; the monitor's base URL.
//	ttl       — token lifetime; should cover the longest exam window.
func NewIssuer(secret []byte, issuerURL string, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = 4 * time.Hour
	}
	return &Issuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed token for one session.
func (i *Issuer) Issue(sessionID uuid.UUID, examID string) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		SessionID: sessionID,
		ExamID:    examID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token.
func (i *Issuer) Verify(tokenStr string) (*SessionClaims, error) {
	tok, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}

	claims, ok := tok.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// RequireSession is a Gin middleware enforcing a valid session token on
// event-submission routes. The verified claims land in the request context.
func RequireSession(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
			})
			return
		}

		claims, err := issuer.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid session token",
			})
			return
		}

		c.Set(ctxSessionClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx returns the verified session claims, or nil outside a
// RequireSession route.
func ClaimsFromCtx(c *gin.Context) *SessionClaims {
	v, ok := c.Get(ctxSessionClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*SessionClaims)
	return claims
}

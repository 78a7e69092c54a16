package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleDriver = "driver"
	RoleStaff  = "staff"
)

// Claims carried by front tokens. Subject is the driver id for drivers.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type caller struct {
	Claims
	token string
}

const callerKey contextKey = "caller"

var errNoToken = errors.New("missing bearer token")

// Authenticator validates HS256 tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token; used by tooling and tests.
func (a *Authenticator) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Validate(raw string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("authentication is not configured")
	}
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", errNoToken
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), nil
}

// requireRole rejects requests without a valid token for role.
func (s *Server) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := s.auth.Validate(raw)
		if err != nil {
			s.logger.Debug("token rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if info := requestInfoFromContext(r.Context()); info != nil {
			info.role, info.subject = claims.Role, claims.Subject
		}
		if claims.Role != role {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, caller{Claims: *claims, token: raw})
		next(w, r.WithContext(ctx))
	}
}

func callerFromContext(ctx context.Context) (caller, bool) {
	c, ok := ctx.Value(callerKey).(caller)
	return c, ok
}

// driverID reads the numeric driver id from the token subject.
func (c caller) driverID() (int, error) {
	id, err := strconv.Atoi(c.Subject)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("token subject %q is not a driver id", c.Subject)
	}
	return id, nil
}

package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
	"github.com/Timmutegi/ae-tuition-backend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// Bearer tokens are HS256 JWTs issued by the tuition platform. The subject is
// the user id and the "role" claim is admin or teacher. Automation that only
// triggers check runs authenticates with a service key whose bcrypt hash is
// configured.
// ══════════════════════════════════════════════════════════════════════════════

// ServiceKeyHeader carries the service key for machine callers.
const ServiceKeyHeader = "X-API-Key"

var (
	errMissingToken = fmt.Errorf("%w: missing bearer token", shared.ErrUnauthorized)
	errInvalidToken = fmt.Errorf("%w: invalid token", shared.ErrUnauthorized)
)

// AuthConfig configures the Authenticator.
type AuthConfig struct {
	JWTSecret        string
	Issuer           string
	ServiceKeyHashes []string
}

// Claims are the JWT claims understood by the API.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves request credentials into an actor.
type Authenticator struct {
	secret      []byte
	issuer      string
	serviceKeys [][]byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	a := &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
	for _, h := range cfg.ServiceKeyHashes {
		if h = strings.TrimSpace(h); h != "" {
			a.serviceKeys = append(a.serviceKeys, []byte(h))
		}
	}
	return a
}

// IssueToken signs a token for actor. Used by the CLI and tests.
func (a *Authenticator) IssueToken(actor intervention.Actor, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("issue_token: %w", err)
	}
	return signed, nil
}

// ParseToken validates raw and returns the actor it names.
func (a *Authenticator) ParseToken(raw string) (intervention.Actor, error) {
	if len(a.secret) == 0 {
		return intervention.Actor{}, fmt.Errorf("%w: token auth is not configured", shared.ErrUnauthorized)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return intervention.Actor{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return intervention.Actor{}, fmt.Errorf("%w: unexpected issuer", errInvalidToken)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return intervention.Actor{}, fmt.Errorf("%w: subject is not a user id", errInvalidToken)
	}

	role := intervention.Role(strings.ToLower(claims.Role))
	if role != intervention.RoleAdmin && role != intervention.RoleTeacher {
		return intervention.Actor{}, fmt.Errorf("%w: role %q", shared.ErrForbidden, claims.Role)
	}
	return intervention.Actor{UserID: userID, Role: role}, nil
}

// VerifyServiceKey reports whether key matches a configured hash.
func (a *Authenticator) VerifyServiceKey(key string) bool {
	if key == "" {
		return false
	}
	for _, h := range a.serviceKeys {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// HashServiceKey returns the bcrypt hash to configure for key.
func HashServiceKey(key string, cost int) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("hash_service_key: %w", shared.ErrEmptyValue)
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("hash_service_key: %w", err)
	}
	return string(h), nil
}

func bearerToken(r *http.Request) (string, error) {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", errMissingToken
	}
	return strings.Trim(fields[1], `"'`), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

const (
	contextKeyActor   contextKey = "actor"
	contextKeyService contextKey = "service"
)

// ActorFromContext returns the authenticated actor.
func ActorFromContext(ctx context.Context) (intervention.Actor, bool) {
	actor, ok := ctx.Value(contextKeyActor).(intervention.Actor)
	return actor, ok
}

func isServiceCall(ctx context.Context) bool {
	v, _ := ctx.Value(contextKeyService).(bool)
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requireRole authenticates the bearer token and checks the role.
func (s *Server) requireRole(role intervention.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.authenticate(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if actor.Role != role {
			s.writeError(w, r, fmt.Errorf("%w: %s role required", shared.ErrForbidden, role))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), contextKeyActor, actor)))
	}
}

// requireAdminOrService accepts an admin token or a valid service key.
func (s *Server) requireAdminOrService(next http.HandlerFunc) http.HandlerFunc {
	admin := s.requireRole(intervention.RoleAdmin, next)
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(ServiceKeyHeader)
		if key == "" {
			admin(w, r)
			return
		}
		if !s.auth.VerifyServiceKey(key) {
			s.logger.Warn("rejected service key",
				logger.String("ip", getClientIP(r)),
				logger.String("request_id", getRequestID(r.Context())),
			)
			s.writeError(w, r, fmt.Errorf("%w: invalid service key", shared.ErrUnauthorized))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), contextKeyService, true)))
	}
}

func (s *Server) authenticate(r *http.Request) (intervention.Actor, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return intervention.Actor{}, err
	}
	actor, err := s.auth.ParseToken(raw)
	if err != nil {
		if !errors.Is(err, shared.ErrForbidden) {
			s.logger.Debug("token rejected", logger.Err(err), logger.String("request_id", getRequestID(r.Context())))
		}
		return intervention.Actor{}, err
	}
	return actor, nil
}

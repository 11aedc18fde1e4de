package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type Claims struct {
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Groups      []string `json:"groups"`
	CompanyID   string   `json:"companyId"`   // tenant the agent works for
	AgentHandle string   `json:"agentHandle"` // handle used for routing
	jwt.RegisteredClaims
}

type contextKey string

const UserContextKey contextKey = "user"

// Config controls how tokens are verified
type Config struct {
	SkipAuth        bool
	VerifySignature bool
	Env             string
	OIDCIssuer      string
}

// verify reports whether signatures must be checked. Anything other than a
// development environment always verifies.
func (c Config) verify() bool {
	return c.VerifySignature || (c.Env != "development" && c.Env != "")
}

// JWKSManager handles JWKS fetching and caching
type JWKSManager struct {
	jwks       keyfunc.Keyfunc
	issuerURL  string
	mu         sync.RWMutex
	lastUpdate time.Time
}

// refresh fetches the JWKS from the OIDC provider
func (m *JWKSManager) refresh(logger zerolog.Logger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Construct JWKS URL (Keycloak format)
	jwksURL := strings.TrimSuffix(m.issuerURL, "/") + "/protocol/openid-connect/certs"
	logger.Info().Str("url", jwksURL).Msg("fetching JWKS")

	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return fmt.Errorf("failed to create keyfunc: %w", err)
	}

	m.jwks = k
	m.lastUpdate = time.Now()
	return nil
}

// getKeyfunc returns the JWT keyfunc for token verification
func (m *JWKSManager) getKeyfunc() jwt.Keyfunc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.jwks == nil {
		return nil
	}
	return m.jwks.Keyfunc
}

// Authenticator validates agent and operator tokens from the identity provider
type Authenticator struct {
	cfg     Config
	keyfunc jwt.Keyfunc
	jwks    *JWKSManager
	once    sync.Once
	initErr error
	now     func() time.Time
	logger  zerolog.Logger
}

// NewAuthenticator creates an authenticator. JWKS is fetched lazily on the
// first token that needs verification.
func NewAuthenticator(cfg Config, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// WithKeyfunc verifies signatures with kf instead of a remote JWKS
func (a *Authenticator) WithKeyfunc(kf jwt.Keyfunc) *Authenticator {
	a.keyfunc = kf
	return a
}

// InitJWKS fetches the issuer's JWKS up front
func (a *Authenticator) InitJWKS() error {
	a.once.Do(func() {
		if a.cfg.OIDCIssuer == "" {
			a.initErr = fmt.Errorf("OIDC_ISSUER not configured for JWT verification")
			return
		}
		a.jwks = &JWKSManager{issuerURL: a.cfg.OIDCIssuer}
		a.initErr = a.jwks.refresh(a.logger)
	})
	return a.initErr
}

// Middleware validates JWT tokens from OIDC provider
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health check
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.SkipAuth {
			// Dev user with admin role; agent identity comes from register-agent
			ctx := WithClaims(r.Context(), &Claims{
				Email:  "dev@callrouter.local",
				Name:   "Dev User",
				Role:   "admin",
				Groups: []string{"developers"},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			a.logger.Debug().Str("path", r.URL.Path).Msg("missing authorization token")
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		claims, err := a.ValidateToken(tokenString)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("token validation failed")
			http.Error(w, fmt.Sprintf("Unauthorized: %v", err), http.StatusUnauthorized)
			return
		}

		a.logger.Debug().
			Str("email", claims.Email).
			Str("role", claims.Role).
			Str("company_id", claims.CompanyID).
			Str("agent_handle", claims.AgentHandle).
			Msg("user authenticated")

		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken gets the token from Authorization header or query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}

	// Browsers cannot set headers on websocket upgrades
	return r.URL.Query().Get("token")
}

// ValidateToken parses the token, verifying its signature unless running in
// development without VERIFY_JWT_SIGNATURE.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	var token *jwt.Token
	var err error

	verify := a.cfg.verify()
	if verify {
		token, err = a.parseAndVerify(tokenString)
		if err != nil {
			return nil, err
		}
	} else {
		token, _, err = new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return nil, fmt.Errorf("failed to parse token: %w", err)
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := &Claims{
		Email:       stringClaim(mapClaims, "email"),
		Name:        stringClaim(mapClaims, "name", "preferred_username"),
		Role:        extractRoleFromMapClaims(mapClaims),
		Groups:      extractGroupsFromMapClaims(mapClaims),
		CompanyID:   stringClaim(mapClaims, "company_id", "custom:company_id"),
		AgentHandle: stringClaim(mapClaims, "agent_handle", "preferred_username"),
	}
	claims.Subject = stringClaim(mapClaims, "sub")

	// Verified tokens have exp checked by the parser
	if !verify {
		if exp, ok := mapClaims["exp"].(float64); ok {
			expTime := time.Unix(int64(exp), 0)
			claims.ExpiresAt = jwt.NewNumericDate(expTime)
			if expTime.Before(a.now()) {
				return nil, fmt.Errorf("token expired")
			}
		}
	}

	return claims, nil
}

// parseAndVerify verifies the JWT signature using JWKS
func (a *Authenticator) parseAndVerify(tokenString string) (*jwt.Token, error) {
	kf := a.keyfunc
	if kf == nil {
		if err := a.InitJWKS(); err != nil {
			return nil, fmt.Errorf("failed to initialize JWKS: %w", err)
		}
		kf = a.jwks.getKeyfunc()
	}
	if kf == nil {
		return nil, fmt.Errorf("JWKS not available")
	}

	token, err := jwt.Parse(tokenString, kf, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "HS256"}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return token, nil
}

func stringClaim(mapClaims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if v, ok := mapClaims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// extractRoleFromMapClaims extracts role from various possible token claim locations
func extractRoleFromMapClaims(mapClaims jwt.MapClaims) string {
	// Check realm_access.roles (Keycloak)
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		if roles, ok := realmAccess["roles"].([]interface{}); ok {
			// Priority order: admin > supervisor > agent > viewer
			for _, priority := range []string{"admin", "supervisor", "agent", "viewer"} {
				for _, role := range roles {
					if roleStr, ok := role.(string); ok && roleStr == priority {
						return roleStr
					}
				}
			}
		}
	}

	// Check cognito:groups and custom:groups
	for _, key := range []string{"cognito:groups", "custom:groups"} {
		groups, ok := mapClaims[key].([]interface{})
		if !ok {
			continue
		}
		for _, group := range groups {
			groupStr, ok := group.(string)
			if !ok {
				continue
			}
			for _, role := range []string{"admin", "supervisor", "agent"} {
				if strings.Contains(groupStr, role) {
					return role
				}
			}
		}
	}

	return "viewer" // default role
}

// extractGroupsFromMapClaims extracts groups from token claims
func extractGroupsFromMapClaims(mapClaims jwt.MapClaims) []string {
	var groups []string
	for _, key := range []string{"groups", "cognito:groups"} {
		if list, ok := mapClaims[key].([]interface{}); ok {
			for _, group := range list {
				if groupStr, ok := group.(string); ok {
					groups = append(groups, groupStr)
				}
			}
		}
	}
	return groups
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}

// HasRole checks if user has specific role
func HasRole(claims *Claims, role string) bool {
	return claims.Role == role
}

// InGroup checks if user is in specific group
func InGroup(claims *Claims, group string) bool {
	for _, g := range claims.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"itam-api/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

type claimsKey struct{}

// maxTokenBytes bounds the Authorization header we are willing to parse
const maxTokenBytes = 8192

// expiryWarning is how close to expiry a token must be before responses
// carry the X-Token-Expires-* headers.
const expiryWarning = time.Hour

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// authError is a rejected credential with its response code
type authError struct {
	msg  string
	code string
}

// ClaimsFromContext extracts the JWT claims from the request context
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// ActorFromContext returns the authenticated caller. ok is false on
// unauthenticated requests.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return models.Actor{}, false
	}
	return claims.Actor(), true
}

// WithClaims stores claims in ctx the way AuthMiddleware does
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// Paths served without a token
var publicPaths = map[string]bool{
	"/health":     true,
	"/metrics":    true,
	"/auth/login": true,
}

func isPublicPath(path string) bool {
	return publicPaths[path]
}

// SendErrorResponse writes the standard error body; handlers outside this
// package use it so every error has the same shape.
func SendErrorResponse(w http.ResponseWriter, message, code string, statusCode int) {
	sendErrorResponse(w, message, code, statusCode)
}

func sendErrorResponse(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// validateTokenFormat rejects tokens that cannot be a compact JWS before
// any signature work is done.
func validateTokenFormat(token string) error {
	switch {
	case token == "":
		return errors.New("token cannot be empty")
	case len(token) > maxTokenBytes:
		return errors.New("token size exceeds maximum allowed")
	case strings.Count(token, ".") != 2:
		return errors.New("invalid JWT token format")
	}
	return nil
}

// bearerToken pulls the token out of the Authorization header
func bearerToken(r *http.Request) (string, *authError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &authError{"Authorization header required", "MISSING_AUTH_HEADER"}
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", &authError{"Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT"}
	}
	if token == "" {
		return "", &authError{"Token is required", "MISSING_TOKEN"}
	}
	if err := validateTokenFormat(token); err != nil {
		return "", &authError{"Invalid token format: " + err.Error(), "INVALID_TOKEN_FORMAT"}
	}
	return token, nil
}

// classifyTokenError maps a jwt validation failure to a response code
func classifyTokenError(err error) *authError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &authError{"Token has expired", "TOKEN_EXPIRED"}
	case errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &authError{"Invalid token signature", "INVALID_SIGNATURE"}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &authError{"Token is malformed", "MALFORMED_TOKEN"}
	default:
		return &authError{"Invalid or expired token", "INVALID_TOKEN"}
	}
}

// checkIdentity rejects tokens that do not name a usable tenant actor.
// platform_admin is the one role outside the tenant role set.
func checkIdentity(c *Claims) *authError {
	if c.UserID == "" {
		return &authError{"Invalid user ID in token", "INVALID_USER_ID"}
	}
	if c.TenantID == "" {
		return &authError{"Invalid tenant ID in token", "INVALID_TENANT_ID"}
	}
	if len(c.Roles) == 0 {
		return &authError{"No roles assigned to user", "NO_ROLES"}
	}
	for _, role := range c.Roles {
		if role != models.RolePlatformAdmin && !models.IsValidRole(role) {
			return &authError{"Unknown role " + role, "UNKNOWN_ROLE"}
		}
	}
	return nil
}

// AuthMiddleware validates bearer tokens on every non-public path and puts
// the claims on the request context.
func AuthMiddleware(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, aerr := bearerToken(r)
			if aerr == nil {
				claims, err := jwtManager.ValidateToken(token)
				if err != nil {
					aerr = classifyTokenError(err)
				} else if aerr = checkIdentity(claims); aerr == nil {
					if claims.ExpiresAt != nil && claims.IsExpiringSoon(expiryWarning) {
						w.Header().Set("X-Token-Expires-At", claims.ExpiresAt.Time.Format(time.RFC3339))
						w.Header().Set("X-Token-Expires-In", time.Until(claims.ExpiresAt.Time).Round(time.Second).String())
					}
					next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
					return
				}
			}
			sendErrorResponse(w, aerr.msg, aerr.code, http.StatusUnauthorized)
		})
	}
}

// MustRole admits callers holding any of requiredRoles
func MustRole(requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				sendErrorResponse(w, "Authentication required", "AUTHENTICATION_REQUIRED", http.StatusUnauthorized)
				return
			}
			if len(requiredRoles) == 0 {
				sendErrorResponse(w, "No roles specified for this endpoint", "NO_ROLES_SPECIFIED", http.StatusInternalServerError)
				return
			}
			if !claims.HasRole(requiredRoles...) {
				sendErrorResponse(w, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// middleware/jwt_middleware.go
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/HSouheill/coursemarket_backend/models"
)

const (
	// GrantTTL bounds the gap between confirming a code and finalizing the account.
	GrantTTL   = 30 * time.Minute
	SessionTTL = 7 * 24 * time.Hour

	purposeGrant   = "finalize"
	purposeSession = "session"
)

var ErrInvalidToken = errors.New("invalid token")

// JwtCustomClaims for JWT token
type JwtCustomClaims struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
	Role      string `json:"accountType,omitempty"`
	Purpose   string `json:"purpose"`
	jwt.StandardClaims
}

// JWTIssuer signs and parses the tokens handed out during signup.
type JWTIssuer struct {
	secret     []byte
	grantTTL   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

func NewJWTIssuer(secret []byte) *JWTIssuer {
	return &JWTIssuer{
		secret:     secret,
		grantTTL:   GrantTTL,
		sessionTTL: SessionTTL,
		now:        time.Now,
	}
}

// IssueGrant signs a single-purpose token that lets the holder finalize
// the pending account with the given email.
func (j *JWTIssuer) IssueGrant(accountID models.AccountID, email string) (string, error) {
	return j.sign(JwtCustomClaims{
		AccountID: string(accountID),
		Email:     email,
		Purpose:   purposeGrant,
	}, j.grantTTL)
}

// ParseGrant verifies a grant and returns the account and email it names.
func (j *JWTIssuer) ParseGrant(token string) (models.AccountID, string, error) {
	claims, err := j.parse(token)
	if err != nil {
		return "", "", err
	}
	if claims.Purpose != purposeGrant {
		return "", "", fmt.Errorf("%w: not a finalize grant", ErrInvalidToken)
	}
	return models.AccountID(claims.AccountID), claims.Email, nil
}

// IssueSession signs the login token returned once the account is active.
func (j *JWTIssuer) IssueSession(accountID models.AccountID, email string, role models.Role) (string, error) {
	return j.sign(JwtCustomClaims{
		AccountID: string(accountID),
		Email:     email,
		Role:      string(role),
		Purpose:   purposeSession,
	}, j.sessionTTL)
}

func (j *JWTIssuer) sign(claims JwtCustomClaims, ttl time.Duration) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("JWT secret is not configured")
	}
	now := j.now()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

func (j *JWTIssuer) parse(tokenString string) (*JwtCustomClaims, error) {
	claims := &JwtCustomClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, j.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (j *JWTIssuer) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return j.secret, nil
}

// JWTMiddleware accepts only session tokens and stores their claims in the
// context under "accountId", "email" and "accountType".
func JWTMiddleware(secret []byte) echo.MiddlewareFunc {
	jwtAuth := middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    secret,
		SigningMethod: middleware.AlgorithmHS256,
		Claims:        &JwtCustomClaims{},
		ErrorHandler: func(err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "Please provide valid credentials")
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return jwtAuth(func(c echo.Context) error {
			claims := GetUserFromToken(c)
			if claims == nil || claims.Purpose != purposeSession {
				return echo.NewHTTPError(http.StatusUnauthorized, "Please provide valid credentials")
			}
			c.Set("accountId", claims.AccountID)
			c.Set("email", claims.Email)
			c.Set("accountType", claims.Role)
			return next(c)
		})
	}
}

// GetUserFromToken extracts the claims stored by the JWT middleware.
func GetUserFromToken(c echo.Context) *JwtCustomClaims {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return nil
	}
	claims, ok := token.Claims.(*JwtCustomClaims)
	if !ok {
		return nil
	}
	return claims
}

func ExtractAccountID(c echo.Context) (models.AccountID, error) {
	if id, ok := c.Get("accountId").(string); ok && id != "" {
		return models.AccountID(id), nil
	}
	return "", errors.New("invalid account ID in token")
}

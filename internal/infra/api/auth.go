package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/infra/logging"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carry the account id in the subject and its subscription tier.
type Claims struct {
	Tier model.Tier `json:"tier"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	AccountID string
	Tier      model.Tier
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type AuthManager struct {
	secret []byte
	issuer string
}

func NewAuthManager(secret, issuer string) *AuthManager {
	return &AuthManager{secret: []byte(secret), issuer: issuer}
}

// Mint signs an HS256 token for accountID.
func (a *AuthManager) Mint(accountID string, tier model.Tier, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) Parse(tok string) (Principal, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" || !claims.Tier.Valid() {
		return Principal{}, ErrInvalidToken
	}
	return Principal{AccountID: claims.Subject, Tier: claims.Tier}, nil
}

// ParseFromRequest reads "Authorization: Bearer <jwt>", falling back to the
// access_token query parameter that browser websocket clients use.
func (a *AuthManager) ParseFromRequest(r *http.Request) (Principal, error) {
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		if len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
			return a.Parse(strings.TrimSpace(hdr[7:]))
		}
		return Principal{}, ErrInvalidToken
	}
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return a.Parse(tok)
	}
	return Principal{}, errors.New("missing token")
}

// Authenticate rejects requests without a valid token and stores the
// principal in the request context.
func Authenticate(a *AuthManager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.ParseFromRequest(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := WithPrincipal(r.Context(), p)
			ctx = logging.WithAccountID(ctx, p.AccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

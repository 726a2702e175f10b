// Package identity is the authentication collaborator. The session and
// roster services only ever read the resolved identity's stable key; token
// issuance and credential lifecycle stay in here.
package identity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"rollcall/internal/docstore"
	"rollcall/internal/errs"
	"rollcall/internal/model"
)

// Identity is the resolved current user.
type Identity struct {
	Key      string `json:"key"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Gateway is the contract the rest of the system consumes.
type Gateway interface {
	// CurrentIdentity resolves the caller's identity from the request
	// context; (nil, nil) means signed out.
	CurrentIdentity(ctx context.Context) (*Identity, error)
	// SignOut revokes the presented token.
	SignOut(ctx context.Context, token string) error
	// ResetCredential starts a credential reset for the given email.
	ResetCredential(ctx context.Context, email string) error
}

type ctxKey struct{}

// WithIdentity stashes a resolved identity on the context; the auth
// middleware is the only writer.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext reads the identity the middleware resolved, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// RevocationList remembers revoked token IDs until their natural expiry.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// TokenGateway implements Gateway over HS256 tokens, the users collection
// and a revocation list.
type TokenGateway struct {
	signingKey string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	users      docstore.Collection[model.User]
	revoked    RevocationList
	log        zerolog.Logger
}

func NewTokenGateway(signingKey, issuer string, accessTTL, refreshTTL, resetTTL time.Duration, users docstore.Collection[model.User], revoked RevocationList, log zerolog.Logger) *TokenGateway {
	return &TokenGateway{
		signingKey: signingKey,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		resetTTL:   resetTTL,
		users:      users,
		revoked:    revoked,
		log:        log.With().Str("component", "identity").Logger(),
	}
}

// Login resolves (or first creates) the user document for an email address
// and issues a token pair. The email is the natural lookup key; the user
// document key is the stable identity everything else references. Credential
// verification happens upstream at the external identity provider; by the
// time Login runs the email is already authenticated.
func (g *TokenGateway) Login(ctx context.Context, email, fullName, role string) (Identity, TokenPair, error) {
	if email == "" {
		return Identity{}, TokenPair{}, errs.NewValidation("email", "required")
	}
	matches, err := g.users.Find(ctx, docstore.Condition{{
		"email": {docstore.OpEq: email},
	}})
	if err != nil {
		return Identity{}, TokenPair{}, err
	}
	var user model.User
	if len(matches) > 0 {
		user = matches[0]
	} else {
		user, err = g.users.Create(ctx, model.User{
			Email:    email,
			FullName: fullName,
			Role:     role,
			Status:   model.MemberActive,
		})
		if err != nil {
			return Identity{}, TokenPair{}, err
		}
	}
	id := Identity{Key: user.Key, Email: user.Email, FullName: user.FullName, Role: user.Role}
	pair, err := Issue(id, g.issuer, g.signingKey, g.accessTTL, g.refreshTTL)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}
	return id, pair, nil
}

// Resolve turns a presented bearer token into an Identity, rejecting
// revoked tokens.
func (g *TokenGateway) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := Parse(token, g.signingKey, g.issuer)
	if err != nil {
		return Identity{}, err
	}
	if g.revoked != nil {
		revoked, err := g.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Identity{}, errs.Unavailablef("revocation check: %v", err)
		}
		if revoked {
			return Identity{}, errs.NewValidation("token", "revoked")
		}
	}
	return Identity{
		Key:      claims.Subject,
		Email:    claims.Email,
		FullName: claims.FullName,
		Role:     claims.Role,
	}, nil
}

func (g *TokenGateway) CurrentIdentity(ctx context.Context) (*Identity, error) {
	if id, ok := FromContext(ctx); ok {
		return &id, nil
	}
	return nil, nil
}

func (g *TokenGateway) SignOut(ctx context.Context, token string) error {
	claims, err := Parse(token, g.signingKey, g.issuer)
	if err != nil {
		// An invalid token is already as signed-out as it gets.
		return nil
	}
	if g.revoked == nil {
		return nil
	}
	until := time.Now().Add(g.refreshTTL)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return g.revoked.Revoke(ctx, claims.ID, until)
}

// ResetCredential issues a short-lived reset token. Delivery is out of
// scope; the token is logged for the operator-facing mail hook to pick up.
func (g *TokenGateway) ResetCredential(ctx context.Context, email string) error {
	matches, err := g.users.Find(ctx, docstore.Condition{{
		"email": {docstore.OpEq: email},
	}})
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return errs.NotFoundf("user with email %s", email)
	}
	user := matches[0]
	token, err := sign(Identity{Key: user.Key, Email: user.Email}, g.issuer, g.signingKey, time.Now().Add(g.resetTTL))
	if err != nil {
		return err
	}
	g.log.Info().Str("user", user.Key).Str("reset_token", token).Msg("credential reset issued")
	return nil
}

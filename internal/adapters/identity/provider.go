// Package identity issues and verifies participant identities.
//
// The engine treats the provider as opaque: it only needs a stable uid, a
// display handle and a guest flag for every request. The built-in provider
// signs guest identities as HS256 JWTs so any issuer sharing the secret is
// accepted too.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/okian/putmeon/internal/domain/errs"
	"github.com/okian/putmeon/internal/domain/model"
	"github.com/okian/putmeon/pkg/logger"
	"github.com/okian/putmeon/pkg/metrics"
)

// ModeGuest is the only sign-in mode the built-in provider supports.
const ModeGuest = "guest"

const (
	defaultTTL       = 24 * time.Hour
	defaultIssuer    = "putmeon"
	guestHandleRange = 1000
	maxHandleLength  = 32
)

// Credentials is a sign-in request.
type Credentials struct {
	Mode   string `json:"mode"`
	Handle string `json:"handle,omitempty"`
}

// Provider authenticates participants.
type Provider interface {
	Authenticate(ctx context.Context, c Credentials) (model.Identity, string, error)
	Verify(ctx context.Context, token string) (model.Identity, error)
	SignOut(ctx context.Context, token string) error
}

type claims struct {
	jwt.RegisteredClaims
	Handle string `json:"handle"`
	Guest  bool   `json:"guest"`
}

// GuestProvider signs guests in without credentials.
type GuestProvider struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
	handle func() int
	logger logger.Logger

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewGuestProvider creates a provider signing with secret.
func NewGuestProvider(secret []byte, opts ...Option) (*GuestProvider, error) {
	if len(secret) == 0 {
		return nil, errs.Newf("identity.new", errs.ErrValidation, "empty signing secret")
	}
	p := &GuestProvider{
		secret:  secret,
		ttl:     defaultTTL,
		issuer:  defaultIssuer,
		now:     time.Now,
		handle:  func() int { return rand.IntN(guestHandleRange) },
		logger:  logger.Nop(),
		revoked: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Authenticate issues a fresh guest identity and its token.
func (p *GuestProvider) Authenticate(ctx context.Context, c Credentials) (model.Identity, string, error) {
	const op = "identity.authenticate"
	mode := strings.ToLower(strings.TrimSpace(c.Mode))
	if mode == "" {
		mode = ModeGuest
	}
	if mode != ModeGuest {
		return model.Identity{}, "", errs.Newf(op, errs.ErrValidation, "unsupported sign-in mode %q", c.Mode)
	}

	handle := strings.TrimSpace(c.Handle)
	switch {
	case handle == "":
		handle = fmt.Sprintf("Guest_%d", p.handle())
	case len(handle) > maxHandleLength:
		return model.Identity{}, "", errs.Newf(op, errs.ErrValidation, "handle longer than %d characters", maxHandleLength)
	}

	id := model.Identity{UID: uuid.NewString(), Handle: handle, IsGuest: true}
	token, err := p.sign(id)
	if err != nil {
		return model.Identity{}, "", errs.WrapKind(op, errs.ErrTransport, err)
	}
	metrics.RecordAuthentication(mode)
	p.logger.Info(ctx, "guest signed in", logger.String("uid", id.UID), logger.String("handle", id.Handle))
	return id, token, nil
}

func (p *GuestProvider) sign(id model.Identity) (string, error) {
	now := p.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
		Handle: id.Handle,
		Guest:  id.IsGuest,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
}

func (p *GuestProvider) parse(token string) (claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return claims{}, err
	}
	if c.Subject == "" {
		return claims{}, jwt.ErrTokenInvalidSubject
	}
	if c.ID == "" {
		return claims{}, jwt.ErrTokenInvalidId
	}
	return c, nil
}

// Verify returns the identity a token vouches for.
func (p *GuestProvider) Verify(ctx context.Context, token string) (model.Identity, error) {
	const op = "identity.verify"
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, errs.Newf(op, errs.ErrUnauthorized, "missing token")
	}
	c, err := p.parse(token)
	if err != nil {
		p.logger.Debug(ctx, "token rejected", logger.Error(err))
		return model.Identity{}, errs.WrapKind(op, errs.ErrUnauthorized, err)
	}
	if p.isRevoked(c.ID) {
		return model.Identity{}, errs.Newf(op, errs.ErrUnauthorized, "token revoked")
	}
	return model.Identity{UID: c.Subject, Handle: c.Handle, IsGuest: c.Guest}, nil
}

// SignOut revokes token until it would have expired anyway. Signing out an
// already revoked token is not an error.
func (p *GuestProvider) SignOut(ctx context.Context, token string) error {
	const op = "identity.signout"
	c, err := p.parse(strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil
		}
		return errs.WrapKind(op, errs.ErrUnauthorized, err)
	}

	p.mu.Lock()
	now := p.now()
	for id, exp := range p.revoked {
		if !exp.After(now) {
			delete(p.revoked, id)
		}
	}
	p.revoked[c.ID] = c.ExpiresAt.Time
	p.mu.Unlock()

	metrics.RecordSignOut()
	p.logger.Info(ctx, "signed out", logger.String("uid", c.Subject))
	return nil
}

func (p *GuestProvider) isRevoked(jti string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.revoked[jti]
	return ok
}

// Revoked returns the number of tracked revocations.
func (p *GuestProvider) Revoked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.revoked)
}

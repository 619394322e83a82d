package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-meeting/config"
	"github.com/tcriess/lightspeed-meeting/globals"
	"github.com/tcriess/lightspeed-meeting/types"
)

// Claims are the parts of a verified id token used for the identity.
type Claims struct {
	Subject string
	Email   string
	Name    string
	Expiry  time.Time
}

// Verifier verifies raw id tokens of one provider.
type Verifier interface {
	Verify(ctx context.Context, rawIdToken string) (*Claims, error)
}

// providerVerifier discovers the provider on first use, so a provider that is
// down at startup does not keep the server from starting.
type providerVerifier struct {
	cfg config.OIDCConfig

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

func (v *providerVerifier) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.verifier != nil {
		return v.verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, v.cfg.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if v.cfg.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = v.cfg.ClientId
	}
	v.verifier = provider.Verifier(&conf)
	return v.verifier, nil
}

func (v *providerVerifier) Verify(ctx context.Context, rawIdToken string) (*Claims, error) {
	verifier, err := v.idTokenVerifier(ctx)
	if err != nil {
		return nil, err
	}
	idToken, err := verifier.Verify(ctx, rawIdToken)
	if err != nil {
		return nil, err
	}
	claims := struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	return &Claims{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Expiry:  idToken.Expiry,
	}, nil
}

type cachedIdentity struct {
	identity types.Identity
	expiry   time.Time
}

// Authenticator turns id tokens into identities. Verified tokens are cached
// until they expire.
type Authenticator struct {
	verifiers map[string]Verifier
	cache     *lru.Cache
	now       func() time.Time
}

func NewAuthenticator(cfg *config.Config) (*Authenticator, error) {
	verifiers := make(map[string]Verifier, len(cfg.OIDCConfigs))
	for _, c := range cfg.OIDCConfigs {
		verifiers[c.Name] = &providerVerifier{cfg: c}
	}
	return NewAuthenticatorWithVerifiers(verifiers, cfg.TokenCacheSize)
}

func NewAuthenticatorWithVerifiers(verifiers map[string]Verifier, cacheSize int) (*Authenticator, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		verifiers: verifiers,
		cache:     cache,
		now:       time.Now,
	}, nil
}

// Authenticate verifies idToken with the named provider. The identity id is
// the e-mail address, or the subject if the token has none.
func (a *Authenticator) Authenticate(ctx context.Context, idToken, provider string) (types.Identity, error) {
	key := provider + "\x00" + idToken
	if v, ok := a.cache.Get(key); ok {
		cached := v.(cachedIdentity)
		if a.now().Before(cached.expiry) {
			return cached.identity, nil
		}
		a.cache.Remove(key)
	}

	verifier, ok := a.verifiers[provider]
	if !ok {
		return types.Identity{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	claims, err := verifier.Verify(ctx, idToken)
	if err != nil {
		globals.AppLogger.Debug("could not verify id token", "provider", provider, "error", err)
		return types.Identity{}, err
	}
	identity := types.Identity{Id: claims.Email, Name: claims.Name}
	if identity.Id == "" {
		identity.Id = claims.Subject
	}
	if identity.Id == "" {
		return types.Identity{}, ErrNoIdentity
	}
	if identity.Name == "" {
		identity.Name = identity.Id
	}
	if a.now().Before(claims.Expiry) {
		a.cache.Add(key, cachedIdentity{identity: identity, expiry: claims.Expiry})
	}
	return identity, nil
}

package auth

import (
	"fmt"
	"net/http"

	"github.com/folkengine/goname"
	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-meeting/config"
	"github.com/tcriess/lightspeed-meeting/types"
)

// Headers set by an authenticating reverse proxy (oauth2-proxy naming).
const (
	HeaderUpstreamUser = "X-Auth-Request-User"
	HeaderUpstreamName = "X-Auth-Request-Preferred-Username"
)

// Resolver determines the identity of an incoming websocket request, in this
// order: an OIDC id token, the identity of an authenticating proxy, a
// self-asserted or generated guest identity.
type Resolver struct {
	authenticator *Authenticator
	trustUpstream bool
	allowGuests   bool
}

func NewResolver(cfg *config.Config, authenticator *Authenticator) *Resolver {
	return &Resolver{
		authenticator: authenticator,
		trustUpstream: cfg.TrustUpstream,
		allowGuests:   cfg.AllowGuests,
	}
}

func (r *Resolver) Resolve(req *http.Request) (types.Identity, error) {
	vals := req.URL.Query()
	if idToken := vals.Get("id_token"); idToken != "" && r.authenticator != nil {
		identity, err := r.authenticator.Authenticate(req.Context(), idToken, vals.Get("provider"))
		if err != nil {
			return types.Identity{}, fmt.Errorf("could not authenticate: %w", err)
		}
		return identity, nil
	}

	if r.trustUpstream {
		if userId := req.Header.Get(HeaderUpstreamUser); userId != "" {
			name := req.Header.Get(HeaderUpstreamName)
			if name == "" {
				name = userId
			}
			return types.Identity{Id: userId, Name: name}, nil
		}
	}

	if !r.allowGuests {
		return types.Identity{}, ErrUnauthenticated
	}
	identity := types.Identity{Id: vals.Get("user_id"), Name: vals.Get("name"), Guest: true}
	if identity.Id == "" {
		identity.Id = "guest-" + uuid.NewString()
	}
	if identity.Name == "" {
		identity.Name = goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	}
	return identity, nil
}

package api

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"

	"tovis/internal/apperr"
	"tovis/internal/auth"
	"tovis/internal/config"
	"tovis/internal/models"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	authorizationHeader   = "authorization"
	clientKeyUnknown      = "unknown"

	permReadAvailability = "read:availability"
	permReadSessions     = "read:sessions"
	permReadBookings     = "read:bookings"
)

// ActorResolver loads the actor behind an authenticated user id.
type ActorResolver interface {
	CurrentUser(ctx context.Context, userID int64) (models.Actor, error)
}

// callerCredentials are the raw values a caller presented on either surface.
type callerCredentials struct {
	bearer string
	apiKey string
	extra  string
}

// Authenticator turns credentials into an Actor. End users present a bearer
// token; integrations present an API key pair and act as the system actor,
// limited to the permissions of their key.
type Authenticator struct {
	tokens       *auth.Authenticator
	users        ActorResolver
	clients      map[string]config.APIClientKey
	apiKeyHeader string
	extraHeader  string
}

func NewAuthenticator(cfg config.APIAuthConfig, tokens *auth.Authenticator, users ActorResolver) *Authenticator {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}

	apiKeyHeader := strings.ToLower(strings.TrimSpace(cfg.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = apiKeyHeaderDefault
	}
	extraHeader := strings.ToLower(strings.TrimSpace(cfg.HeaderExtra))
	if extraHeader == "" {
		extraHeader = apiExtraHeaderDefault
	}

	return &Authenticator{
		tokens:       tokens,
		users:        users,
		clients:      m,
		apiKeyHeader: apiKeyHeader,
		extraHeader:  extraHeader,
	}
}

// authenticate resolves the actor. required is the permission an API key
// must carry for the operation; empty means API keys are not accepted.
func (a *Authenticator) authenticate(ctx context.Context, c callerCredentials, required string) (models.Actor, error) {
	if c.bearer != "" {
		userID, _, err := a.tokens.Parse(c.bearer)
		if err != nil {
			return models.Actor{}, apperr.Wrap(apperr.KindUnauthorized, "invalid access token", err)
		}
		return a.users.CurrentUser(ctx, userID)
	}

	if c.apiKey == "" {
		return models.Actor{}, apperr.New(apperr.KindUnauthorized, "missing credentials")
	}
	client, ok := a.clients[c.apiKey]
	if !ok || subtle.ConstantTimeCompare([]byte(client.Extra), []byte(c.extra)) != 1 {
		return models.Actor{}, apperr.New(apperr.KindUnauthorized, "invalid api key")
	}
	if required == "" || !hasPermission(client, required) {
		return models.Actor{}, apperr.New(apperr.KindForbidden, "api key is not allowed to call this operation")
	}
	return models.SystemActor, nil
}

// hasPermission treats an empty permission list as allow-all.
func hasPermission(client config.APIClientKey, required string) bool {
	if len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// clientKey identifies the caller for rate limiting.
func clientKey(actor models.Actor, apiKey, remote string) string {
	switch {
	case actor.UserID != 0:
		return "user:" + strconv.FormatInt(actor.UserID, 10)
	case apiKey != "":
		return "key:" + apiKey
	case remote != "":
		return "ip:" + remote
	default:
		return clientKeyUnknown
	}
}

type actorCtxKey struct{}

func withActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFrom returns the authenticated actor stored by the auth middleware
// or interceptor.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorCtxKey{}).(models.Actor)
	return actor, ok
}

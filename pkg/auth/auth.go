// Package auth manages the HIVE session: login, registration, logout and the
// cached session state. Tokens issued by the backend are kept in a Tokens
// holder that the transport reads on every request.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hivesocial/hive_sdk_go/pkg/api"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/keys"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

// SessionStaleTime keeps the session fresh for five minutes.
const SessionStaleTime = 5 * time.Minute

type UserSummary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}

type Session struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Response is returned by login and registration.
type Response struct {
	Session Session     `json:"session"`
	User    UserSummary `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// State is the cached session. The zero value means signed out.
type State struct {
	Authenticated bool         `json:"authenticated"`
	User          *UserSummary `json:"user,omitempty"`
	ExpiresAt     time.Time    `json:"expiresAt,omitempty"`
}

type sessionResponse struct {
	User      UserSummary `json:"user"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Tokens holds the current bearer token.
type Tokens struct {
	mu     sync.RWMutex
	access string
}

// Token returns the access token, or "" when signed out. It is suitable as
// a transport token source.
func (t *Tokens) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.access
}

// Set replaces the access token.
func (t *Tokens) Set(token string) {
	t.mu.Lock()
	t.access = token
	t.mu.Unlock()
}

type Service struct {
	api     *api.Client
	queries *query.Client
	tokens  *Tokens
}

// NewService binds auth to a transport, a query client and the token holder
// the transport reads from.
func NewService(a *api.Client, q *query.Client, tokens *Tokens) *Service {
	if tokens == nil {
		tokens = &Tokens{}
	}
	return &Service{api: a, queries: q, tokens: tokens}
}

// Tokens returns the token holder.
func (s *Service) Tokens() *Tokens { return s.tokens }

// Session returns the cached session state. A rejected session check is a
// signed-out state, not an error. Session checks are never retried.
func (s *Service) Session(ctx context.Context) (State, query.Entry, error) {
	return query.FetchAs(ctx, s.queries, keys.Session(), func(ctx context.Context) (State, error) {
		res, err := api.Get[sessionResponse](ctx, s.api, "/v1/auth/session", nil)
		if err != nil {
			if apierr.HasCode(err, apierr.CodeUnauthorized) || apierr.HasCode(err, apierr.CodeForbidden) {
				return State{}, nil
			}
			return State{}, err
		}
		user := res.User
		return State{Authenticated: true, User: &user, ExpiresAt: res.ExpiresAt}, nil
	}, query.WithStaleTime(SessionStaleTime), query.WithoutRetry())
}

// Login signs in and seeds the session cache.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Response, error) {
	return s.authenticate(ctx, "/v1/auth/login", req)
}

// Register creates an account and signs in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Response, error) {
	return s.authenticate(ctx, "/v1/auth/register", req)
}

func (s *Service) authenticate(ctx context.Context, path string, body any) (Response, error) {
	res, err := query.Mutate(ctx, s.queries, query.Mutation[any, Response]{
		Fn: func(ctx context.Context, in any) (Response, error) {
			return api.Post[Response](ctx, s.api, path, in)
		},
		OnSuccess: func(c *query.Client, _ any, out Response) {
			s.tokens.Set(out.Session.AccessToken)
			user := out.User
			c.SetQueryData(keys.Session(), func(any) any {
				return State{Authenticated: true, User: &user, ExpiresAt: out.Session.ExpiresAt}
			})
		},
	}, body)
	if err != nil {
		s.signedOut()
		return Response{}, err
	}
	return res, nil
}

// Logout ends the session. Local state is cleared even when the server call
// fails.
func (s *Service) Logout(ctx context.Context) error {
	_, err := api.Post[struct{}](ctx, s.api, "/v1/auth/logout", nil)
	s.tokens.Set("")
	s.queries.Clear()
	s.signedOut()
	return err
}

func (s *Service) signedOut() {
	s.queries.SetQueryData(keys.Session(), func(any) any { return State{} })
}

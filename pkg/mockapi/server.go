// Package mockapi is an in-memory HIVE backend. It speaks the same enveloped
// JSON as the real API, can inject latency and failures, and can be served
// over HTTP or plugged straight into a client as a RoundTripper.
package mockapi

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/hivesocial/hive_sdk_go/internal/envelope"
	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/posts"
	"github.com/hivesocial/hive_sdk_go/pkg/users"
)

// DefaultErrorRate is the share of requests failed when injection is on.
const DefaultErrorRate = 0.075

// Options configures a Server.
type Options struct {
	// Latency is the minimum artificial delay per request.
	Latency time.Duration
	// Jitter adds up to this much on top of Latency.
	Jitter time.Duration
	// ErrorRate fails this share of requests with SERVER_ERROR or
	// RATE_LIMITED.
	ErrorRate float64
	// FailStatus pins injected failures to one HTTP status instead of
	// alternating between 500 and 429.
	FailStatus int
	// Seed drives generated data and error injection.
	Seed int64
	// Posts is the number of generated posts.
	Posts  int
	Now    func() time.Time
	Logger zerolog.Logger
}

type failure struct {
	status  int
	code    apierr.Code
	message string
}

// Server is the mock backend. It is safe for concurrent use.
type Server struct {
	mu       sync.Mutex
	opts     Options
	rng      *rand.Rand
	router   *mux.Router
	users    map[string]*users.Profile
	emails   map[string]string
	posts    []*posts.Post
	comments map[string][]posts.Comment
	likes    map[string]map[string]bool
	tokens   map[string]string
	viewer   string
	failures []failure
	requests int
}

// New builds a seeded server.
func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Posts <= 0 {
		opts.Posts = 45
	}
	s := &Server{
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		users:    make(map[string]*users.Profile),
		emails:   make(map[string]string),
		comments: make(map[string][]posts.Comment),
		likes:    make(map[string]map[string]bool),
		tokens:   make(map[string]string),
	}
	s.seed()
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// FailNext makes the next n API requests fail with status and code.
func (s *Server) FailNext(n int, status int, code apierr.Code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, failure{status: status, code: code, message: message})
	}
}

// SetErrorRate changes the random failure share.
func (s *Server) SetErrorRate(rate float64) {
	s.mu.Lock()
	s.opts.ErrorRate = rate
	s.mu.Unlock()
}

// SetLatency changes the artificial delay.
func (s *Server) SetLatency(latency, jitter time.Duration) {
	s.mu.Lock()
	s.opts.Latency = latency
	s.opts.Jitter = jitter
	s.mu.Unlock()
}

// Requests returns how many API requests reached the server.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Token issues a session token for userID, as a login would.
func (s *Server) Token(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueToken(userID)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.middleware)

	v1.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	v1.HandleFunc("/auth/session", s.handleSession).Methods(http.MethodGet)

	v1.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)
	v1.HandleFunc("/users/me", s.handleUpdateMe).Methods(http.MethodPatch)
	v1.HandleFunc("/users/{id}", s.handleUser).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/posts", s.handleUserPosts).Methods(http.MethodGet)

	v1.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)
	v1.HandleFunc("/posts", s.handleListPosts).Methods(http.MethodGet)
	v1.HandleFunc("/posts", s.handleCreatePost).Methods(http.MethodPost)
	v1.HandleFunc("/posts/{id}", s.handleGetPost).Methods(http.MethodGet)
	v1.HandleFunc("/posts/{id}", s.handleDeletePost).Methods(http.MethodDelete)
	v1.HandleFunc("/posts/{id}/like", s.handleLike).Methods(http.MethodPost)
	v1.HandleFunc("/posts/{id}/like", s.handleUnlike).Methods(http.MethodDelete)
	v1.HandleFunc("/posts/{id}/comments", s.handleComments).Methods(http.MethodGet)
	v1.HandleFunc("/posts/{id}/comments", s.handleAddComment).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, http.StatusNotFound, apierr.CodeNotFound, "No route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, http.StatusMethodNotAllowed, apierr.CodeUnknown, "Method not allowed")
	})
	return r
}

// middleware applies latency and failure injection.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		delay := s.opts.Latency
		if s.opts.Jitter > 0 {
			delay += time.Duration(s.rng.Int63n(int64(s.opts.Jitter) + 1))
		}
		var injected *failure
		if len(s.failures) > 0 {
			f := s.failures[0]
			s.failures = s.failures[1:]
			injected = &f
		} else if s.opts.ErrorRate > 0 && s.rng.Float64() < s.opts.ErrorRate {
			f := randomFailure(s.rng, s.opts.FailStatus)
			injected = &f
		}
		s.mu.Unlock()

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-r.Context().Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if injected != nil {
			s.opts.Logger.Debug().Str("path", r.URL.Path).Int("status", injected.status).Msg("failure injected")
			s.fail(w, injected.status, injected.code, injected.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func randomFailure(rng *rand.Rand, status int) failure {
	if status > 0 {
		return failure{status: status, code: apierr.CodeForStatus(status, ""), message: "failure injected"}
	}
	if rng.Intn(2) == 0 {
		return failure{status: http.StatusInternalServerError, code: apierr.CodeServer, message: "Internal server error. Please try again later."}
	}
	return failure{status: http.StatusTooManyRequests, code: apierr.CodeRateLimited, message: "Too many requests. Please slow down."}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) ok(w http.ResponseWriter, status int, data any, message string) {
	if message == "" {
		message = "Success"
	}
	body, err := envelope.Success(data, message, s.opts.Now())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, apierr.CodeServer, err.Error())
		return
	}
	writeBody(w, status, body)
}

func (s *Server) fail(w http.ResponseWriter, status int, code apierr.Code, message string) {
	body, err := envelope.Failure(string(code), message, s.opts.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeBody(w, status, body)
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// viewerID resolves the bearer token. Callers hold s.mu.
func (s *Server) viewerID(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	id, ok := s.tokens[strings.TrimSpace(token)]
	return id, ok
}

// authorID is the viewer, or the default account for anonymous writes.
// Callers hold s.mu.
func (s *Server) authorID(r *http.Request) string {
	if id, ok := s.viewerID(r); ok {
		return id
	}
	return s.viewer
}

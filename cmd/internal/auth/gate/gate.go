package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/session"
)

// Sessions is the subset of *session.Service the gate needs.
type Sessions interface {
	Resolve(ctx context.Context, tok string) (session.Session, error)
	Touch(ctx context.Context, now time.Time, sess session.Session, ip string) (session.Session, error)
	Revoke(ctx context.Context, sess session.Session) error
}

// OwnerResolver is implemented by session sources that load the owning
// user in the same query as the session. The gate then skips Users.
type OwnerResolver interface {
	ResolveWithOwner(ctx context.Context, tok string) (session.Session, identity.User, error)
}

// Users loads the principal behind a session.
type Users interface {
	GetUser(ctx context.Context, userID string) (identity.User, error)
}

// Options configures a Gate.
type Options struct {
	Sessions   Sessions
	Users      Users
	Cookie     CookieConfig
	TrustProxy bool
	Log        *slog.Logger
	Metrics    *Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Gate is the authentication middleware.
type Gate struct {
	sessions   Sessions
	users      Users
	cookie     CookieConfig
	trustProxy bool
	log        *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

// New builds a Gate.
func New(opts Options) (*Gate, error) {
	if opts.Sessions == nil {
		return nil, errors.New("gate: sessions are required")
	}
	if _, ok := opts.Sessions.(OwnerResolver); !ok && opts.Users == nil {
		return nil, errors.New("gate: users are required when sessions cannot resolve owners")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		sessions:   opts.Sessions,
		users:      opts.Users,
		cookie:     opts.Cookie,
		trustProxy: opts.TrustProxy,
		log:        opts.Log,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}, nil
}

// Middleware resolves the session cookie and always calls next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := g.cookie.Token(r)
		if tok == "" {
			g.metrics.observe(StateNoToken)
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		sess, owner, haveOwner, err := g.resolve(ctx, tok)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				g.metrics.observe(StateUnknown)
			} else {
				g.metrics.observe(StateError)
				g.log.Error("gate.resolve.fail", "err", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		now := g.now()
		if !sess.IsValid(now) {
			g.metrics.observe(StateExpired)
			if err := g.sessions.Revoke(ctx, sess); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
				g.log.Error("gate.revoke.fail", "err", err, "session_id", sess.ID)
			}
			cw := &clearingWriter{ResponseWriter: w, cookie: g.cookie}
			next.ServeHTTP(cw, r)
			// Handlers that write nothing still get the deletion cookie.
			cw.apply()
			return
		}

		ip := ClientIP(r, g.trustProxy)
		touched, err := g.sessions.Touch(ctx, now, sess, ip)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
			// Revoked or expired between resolve and touch.
			g.metrics.observe(StateUnknown)
			next.ServeHTTP(w, r)
			return
		default:
			g.metrics.observe(StateError)
			g.log.Error("gate.touch.fail", "err", err, "session_id", sess.ID)
			next.ServeHTTP(w, r)
			return
		}

		if !haveOwner {
			owner, err = g.users.GetUser(ctx, touched.UserID)
			if err != nil {
				if identity.IsNotFound(err) {
					g.metrics.observe(StateUnknown)
				} else {
					g.metrics.observe(StateError)
					g.log.Error("gate.user.fail", "err", err, "session_id", sess.ID)
				}
				next.ServeHTTP(w, r)
				return
			}
		}

		g.metrics.observe(StateValid)
		next.ServeHTTP(w, r.WithContext(WithAuth(ctx, Auth{Session: touched, User: owner})))
	})
}

// resolve loads the session, and its owner when the source supports it.
func (g *Gate) resolve(ctx context.Context, tok string) (session.Session, identity.User, bool, error) {
	if or, ok := g.sessions.(OwnerResolver); ok {
		sess, owner, err := or.ResolveWithOwner(ctx, tok)
		return sess, owner, err == nil, err
	}
	sess, err := g.sessions.Resolve(ctx, tok)
	return sess, identity.User{}, false, err
}

// RequireAuth answers 401 unless the gate attached an Auth to the request.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "unauthorized",
					"message": "authentication required",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

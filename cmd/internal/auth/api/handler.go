package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/gate"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/session"
	"github.com/sasha-gershtein/Sodia/cmd/security/password"
)

// Deps are the services the auth endpoints drive.
type Deps struct {
	Log      *slog.Logger
	Identity *identity.Service
	Sessions *session.Service
	Cookie   gate.CookieConfig

	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler wires HTTP auth endpoints to identity/session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	identity *identity.Service
	sessions *session.Service
	cookie   gate.CookieConfig
	now      func() time.Time

	limiter  *ipLimiter
	failures *failureTracker
}

// NewHandler constructs an auth Handler.
func NewHandler(cfg Config, deps Deps) (*Handler, error) {
	if deps.Identity == nil || deps.Sessions == nil {
		return nil, errors.New("auth: identity and session services are required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	return &Handler{
		log:      deps.Log,
		cfg:      cfg,
		identity: deps.Identity,
		sessions: deps.Sessions,
		cookie:   deps.Cookie,
		now:      deps.Now,
		limiter:  newIPLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst, cfg.LimiterIdleTTL),
		failures: newFailureTracker(cfg.LockoutWindow, cfg.lockoutTiers()),
	}, nil
}

// Register wires auth routes onto the provided mux. Authenticated routes
// expect the gate middleware to run in front of the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.Handle("/auth/logout", gate.RequireAuth(http.HandlerFunc(h.handleLogout)))
	mux.Handle("/auth/logout_all", gate.RequireAuth(http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("/auth/password", gate.RequireAuth(http.HandlerFunc(h.handlePassword)))
	mux.Handle("/auth/session/updates", gate.RequireAuth(http.HandlerFunc(h.handleUpdates)))
	mux.Handle("/me", gate.RequireAuth(http.HandlerFunc(h.handleMe)))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := gate.ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if ok, retryAfter := h.limiter.allow(ip, now); !ok {
		h.auditRateLimited(ctx, "auth.register", "", ip, ua, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	u, err := h.identity.Register(ctx, now, identity.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeIdentityError(w, "auth.register.fail", err)
		return
	}

	sess, err := h.sessions.Issue(ctx, now, u.ID, ip)
	if err != nil {
		h.log.Error("auth.register.issue_session.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditRegister(ctx, u.ID, sess.ID, ip, ua)
	h.cookie.Set(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusCreated, authResponse{
		User:    toUserResponse(u),
		Session: toSessionResponse(sess),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := gate.ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeEmail(email)

	// IP-based throttling before any credential work.
	if ok, retryAfter := h.limiter.allow(ip, now); !ok {
		h.auditRateLimited(ctx, "auth.login", identifier, ip, ua, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := h.failures.check(identifier, now); blocked {
		h.auditRateLimited(ctx, "auth.login", identifier, ip, ua, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	u, err := h.identity.Authenticate(ctx, email, req.Password)
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			h.failures.record(identifier, now)
			h.auditLoginFailed(ctx, identifier, ip, ua, "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.failures.reset(identifier)

	sess, err := h.sessions.Issue(ctx, now, u.ID, ip)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, u.ID, sess.ID, ip, ua)
	h.cookie.Set(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{
		User:    toUserResponse(u),
		Session: toSessionResponse(sess),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.Revoke(ctx, a.Session); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		h.log.Error("auth.logout.fail", "err", err, "session_id", a.Session.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogout(ctx, a.User.ID, a.Session.ID, gate.ClientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.cookie.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	n, err := h.sessions.RevokeAll(ctx, a.User.ID)
	if err != nil {
		h.log.Error("auth.logout_all.fail", "err", err, "user_id", a.User.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogoutAll(ctx, a.User.ID, n, gate.ClientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.cookie.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:    toUserResponse(a.User),
		Session: toSessionResponse(a.Session),
	})
}

// handlePassword replaces the credential, ends every session of the user
// and signs the caller back in with a fresh one.
func (h *Handler) handlePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req passwordChangeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "current_password and new_password are required")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := gate.ClientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if err := h.identity.ChangePassword(ctx, now, a.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		if identity.IsInvalidCredentials(err) {
			writeError(w, http.StatusForbidden, "invalid_credentials", "current password is incorrect")
			return
		}
		h.writeIdentityError(w, "auth.password.fail", err)
		return
	}

	n, err := h.sessions.RevokeAll(ctx, a.User.ID)
	if err != nil {
		h.log.Error("auth.password.revoke_all.fail", "err", err, "user_id", a.User.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.auditPasswordChanged(ctx, a.User.ID, n, ip, ua)

	sess, err := h.sessions.Issue(ctx, now, a.User.ID, ip)
	if err != nil {
		// The password is changed and old sessions are gone; the client
		// has to log in again.
		h.log.Error("auth.password.issue_session.fail", "err", err, "user_id", a.User.ID)
		h.cookie.Clear(w)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.cookie.Set(w, sess.Token, sess.ExpiresAt)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdates(w http.ResponseWriter, r *http.Request) {
	a, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		recs, err := h.sessions.Updates(ctx, a.Session)
		if err != nil {
			h.log.Error("auth.updates.list.fail", "err", err, "session_id", a.Session.ID)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		writeJSON(w, http.StatusOK, toUpdatesResponse(recs))

	case http.MethodPost:
		var req updateRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
			return
		}
		rec, err := h.sessions.AppendUpdate(ctx, h.now().UTC(), a.Session, req.Message)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrMessageTooLarge):
				writeError(w, http.StatusBadRequest, "invalid_request", "message too large")
			case errors.Is(err, session.ErrSessionNotFound):
				writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
			default:
				h.log.Error("auth.updates.append.fail", "err", err, "session_id", a.Session.ID)
				writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			}
			return
		}
		writeJSON(w, http.StatusCreated, toUpdateResponse(rec))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (gate.Auth, bool) {
	a, ok := gate.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return gate.Auth{}, false
	}
	return a, true
}

func (h *Handler) writeIdentityError(w http.ResponseWriter, event string, err error) {
	var conflict identity.ConflictError
	switch {
	case errors.As(err, &conflict):
		msg := "account already exists"
		switch conflict.Field {
		case "email":
			msg = "email already registered"
		case "username":
			msg = "username already taken"
		}
		writeError(w, http.StatusConflict, "conflict", msg)
	case errors.Is(err, password.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "password_policy", password.ErrPasswordTooShort.Error())
	case errors.Is(err, password.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "password_policy", password.ErrPasswordTooLong.Error())
	case errors.Is(err, password.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "password_policy", password.ErrWeakPassword.Error())
	case identity.IsInvalidInput(err):
		msg := "invalid request"
		var opErr identity.OpError
		if errors.As(err, &opErr) && opErr.Msg != "" {
			msg = opErr.Msg
		}
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
	case identity.IsNotFound(err):
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

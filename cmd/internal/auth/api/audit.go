package authapi

import (
	"context"
	"log/slog"
	"time"
)

// Audit events are structured log records tagged audit=true so that log
// shipping can route them separately.

func (h *Handler) auditRegister(ctx context.Context, userID, sessionID, ip, ua string) {
	h.audit(ctx, "auth.register", ip, ua,
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, sessionID, ip, ua string) {
	h.audit(ctx, "auth.login.success", ip, ua,
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
}

func (h *Handler) auditLoginFailed(ctx context.Context, identifier, ip, ua, reason string) {
	h.audit(ctx, "auth.login.failed", ip, ua,
		slog.String("identifier", identifier),
		slog.String("reason", reason),
	)
}

func (h *Handler) auditRateLimited(ctx context.Context, action, identifier, ip, ua string, retryAfter time.Duration) {
	h.audit(ctx, action+".rate_limited", ip, ua,
		slog.String("identifier", identifier),
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())),
	)
}

func (h *Handler) auditLogout(ctx context.Context, userID, sessionID, ip, ua string) {
	h.audit(ctx, "auth.logout", ip, ua,
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, revoked int64, ip, ua string) {
	h.audit(ctx, "auth.logout_all", ip, ua,
		slog.String("user_id", userID),
		slog.Int64("revoked", revoked),
	)
}

func (h *Handler) auditPasswordChanged(ctx context.Context, userID string, revoked int64, ip, ua string) {
	h.audit(ctx, "auth.password.changed", ip, ua,
		slog.String("user_id", userID),
		slog.Int64("revoked", revoked),
	)
}

func (h *Handler) audit(ctx context.Context, action, ip, ua string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.Bool("audit", true),
		slog.String("action", action),
		slog.String("ip", ip),
	}
	if ua != "" {
		base = append(base, slog.String("user_agent", ua))
	}
	h.log.LogAttrs(ctx, slog.LevelInfo, action, append(base, attrs...)...)
}

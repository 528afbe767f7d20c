package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fileinasnap/internal/usertoken"
	"fileinasnap/internal/util"
	"fileinasnap/pkg/domain"
	"fileinasnap/services/api/internal/app"
)

// TokenValidator verifies bearer tokens. *usertoken.Verifier implements it.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (usertoken.Claims, error)
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// methodPerms lists the allowed methods of a route and the permission each
// one needs when enforcement is on. An empty permission means any caller.
type methodPerms map[string]string

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.token.verify", "fail", "reason", "missing_token")
			writeError(w, r, http.StatusUnauthorized, "AUTH_REQUIRED", "unauthorized")
			return
		}
		claims, err := s.tokens.Validate(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnavailable) {
				s.audit(r, "api.token.verify", "error", "reason", "jwks_unavailable")
				writeAppError(w, r, "", err)
				return
			}
			s.audit(r, "api.token.verify", "fail", "reason", "invalid_signature_or_claims")
			if s.tooManyAuthFailures(w, r) {
				return
			}
			writeError(w, r, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
			return
		}
		user, err := s.app.ResolveUser(r.Context(), claims.Identity())
		if err != nil {
			s.audit(r, "api.user.resolve", "fail", "reason", err.Error())
			writeAppError(w, r, "", err)
			return
		}
		s.audit(r, "api.authorize", "success", "user_id", user.ID)
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	})
}

// authorized rejects methods outside perms, checks the method's permission
// when enforcement is on, and rate limits requests that need write access.
func (s *Server) authorized(perms methodPerms, next authHandler) authHandler {
	return func(w http.ResponseWriter, r *http.Request, user domain.User) {
		perm, ok := perms[r.Method]
		if !ok {
			methodNotAllowed(w, r)
			return
		}
		if s.enforcePermissions && perm != "" && !user.HasPermission(perm) {
			s.audit(r, "api.permission", "fail", "reason", "missing_"+perm)
			writeError(w, r, http.StatusForbidden, "FORBIDDEN", "missing permission "+perm)
			return
		}
		if perm == app.PermWriteFiles && !s.allowWrite(w, r, user) {
			return
		}
		next(w, r, user)
	}
}

func (s *Server) allowWrite(w http.ResponseWriter, r *http.Request, user domain.User) bool {
	if s.limiter == nil {
		return true
	}
	limit := s.writeLimit
	if limit <= 0 {
		limit = s.app.PlanFor(user).APIRateLimitPerMinute
	}
	allowed, err := s.limiter.AllowN(r.Context(), "user:"+user.ID, limit)
	if err != nil {
		s.audit(r, "api.write", "error", "reason", "rate_limiter_unavailable")
		writeAppError(w, r, "", fmt.Errorf("%w: %v", domain.ErrUnavailable, err))
		return false
	}
	if allowed {
		return true
	}
	s.audit(r, "api.write", "rate_limited")
	w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.Window().Seconds())))
	writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
	return false
}

// tooManyAuthFailures counts a rejected token against the caller's IP and
// answers 429 once the per-minute budget is spent. Limiter errors leave the
// 401 in place.
func (s *Server) tooManyAuthFailures(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil || s.authFailureLimit <= 0 {
		return false
	}
	ip := util.ClientIP(r, s.trustedProxies)
	allowed, err := s.limiter.AllowN(r.Context(), "authfail:"+ip, s.authFailureLimit)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("auth failure limiter unavailable", "ip", ip, "err", err)
		return false
	}
	if allowed {
		return false
	}
	s.audit(r, "api.token.verify", "rate_limited", "reason", "repeated_invalid_tokens")
	w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.Window().Seconds())))
	writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many failed authentication attempts")
	return true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

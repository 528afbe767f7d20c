package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"fileinasnap/internal/ratelimit"
	"fileinasnap/internal/util"
	"fileinasnap/pkg/domain"
	"fileinasnap/services/api/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                     *app.App
	Tokens                  TokenValidator
	Limiter                 *ratelimit.FixedWindowLimiter
	WriteRateLimitPerMinute int
	// AuthFailureLimitPerMinute caps rejected bearer tokens per client IP.
	// Zero disables it; it needs Limiter.
	AuthFailureLimitPerMinute int
	EnforcePermissions        bool
	AllowedOrigins            []string
	TrustedProxies            *util.TrustedProxies
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app                *app.App
	tokens             TokenValidator
	limiter            *ratelimit.FixedWindowLimiter
	writeLimit         int
	authFailureLimit   int
	enforcePermissions bool
	allowedOrigins     []string
	trustedProxies     *util.TrustedProxies
	validate           *validator.Validate
	mux                *http.ServeMux
}

// New constructs the server with routes configured. Limiter is optional;
// without it writes are not rate limited.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token validator required")
	}
	s := &Server{
		app:                cfg.App,
		tokens:             cfg.Tokens,
		limiter:            cfg.Limiter,
		writeLimit:         cfg.WriteRateLimitPerMinute,
		authFailureLimit:   cfg.AuthFailureLimitPerMinute,
		enforcePermissions: cfg.EnforcePermissions,
		allowedOrigins:     cfg.AllowedOrigins,
		trustedProxies:     cfg.TrustedProxies,
		validate:           newValidator(),
		mux:                http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("api",
			util.WithSecurityHeaders(s.trustedProxies,
				util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/health/ready", s.handleReady)
	s.mux.HandleFunc("/plans", s.handlePlans)

	s.mux.Handle("/auth/profile", s.authenticated(s.authorized(methodPerms{
		http.MethodGet: "",
		http.MethodPut: "",
	}, s.handleProfile)))
	s.mux.Handle("/folders", s.authenticated(s.authorized(methodPerms{
		http.MethodGet:  app.PermReadFiles,
		http.MethodPost: app.PermWriteFiles,
	}, s.handleFolders)))
	s.mux.Handle("/folders/", s.authenticated(s.authorized(methodPerms{
		http.MethodGet:    app.PermReadFiles,
		http.MethodDelete: app.PermWriteFiles,
	}, s.handleFolderByID)))
	s.mux.Handle("/uploads/presign", s.authenticated(s.authorized(methodPerms{
		http.MethodGet: app.PermWriteFiles,
	}, s.handlePresign)))
	s.mux.Handle("/uploads/complete", s.authenticated(s.authorized(methodPerms{
		http.MethodPost: app.PermWriteFiles,
	}, s.handleComplete)))
	s.mux.Handle("/files", s.authenticated(s.authorized(methodPerms{
		http.MethodGet: app.PermReadFiles,
	}, s.handleFiles)))
	s.mux.Handle("/files/", s.authenticated(s.authorized(methodPerms{
		http.MethodGet:    app.PermReadFiles,
		http.MethodDelete: app.PermWriteFiles,
	}, s.handleFileByID)))
	s.mux.Handle("/stats", s.authenticated(s.authorized(methodPerms{
		http.MethodGet: app.PermReadFiles,
	}, s.handleStats)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	report, err := s.app.Ready(r.Context())
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("readiness check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": report})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": report})
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	plans := s.app.Plans()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": plans,
		"count": len(plans),
	})
}

// /auth/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		profile, err := s.app.GetProfile(r.Context(), user)
		if err != nil {
			writeAppError(w, r, "profile", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":    user,
			"profile": profile,
			"plan":    s.app.PlanFor(user),
		})
	case http.MethodPut:
		var req updateProfileRequest
		if msg, ok := s.decodeJSON(r, &req); !ok {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", msg)
			return
		}
		profile, err := s.app.UpdateProfile(r.Context(), user, domain.ProfileUpdate{
			FullName:         req.FullName,
			Organization:     req.Organization,
			AvatarURL:        req.AvatarURL,
			SubscriptionTier: req.SubscriptionTier,
			Metadata:         req.Metadata,
		})
		if err != nil {
			if req.SubscriptionTier != nil && errors.Is(err, domain.ErrForbidden) {
				s.audit(r, "api.profile.tier_change", "denied")
			}
			writeAppError(w, r, "profile", err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	default:
		methodNotAllowed(w, r)
	}
}

// /folders
func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		folders, err := s.app.ListFolders(r.Context(), user)
		if err != nil {
			writeAppError(w, r, "folder", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": folders,
			"count": len(folders),
		})
	case http.MethodPost:
		var req createFolderRequest
		if msg, ok := s.decodeJSON(r, &req); !ok {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", msg)
			return
		}
		folder, err := s.app.CreateFolder(r.Context(), user, req.Name)
		if err != nil {
			writeAppError(w, r, "folder", err)
			return
		}
		writeJSON(w, http.StatusCreated, folder)
	default:
		methodNotAllowed(w, r)
	}
}

// /folders/{id}
func (s *Server) handleFolderByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/folders/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		folder, err := s.app.GetFolder(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, "folder", err)
			return
		}
		writeJSON(w, http.StatusOK, folder)
	case http.MethodDelete:
		if err := s.app.DeleteFolder(r.Context(), user, id); err != nil {
			writeAppError(w, r, "folder", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, r)
	}
}

// /uploads/presign?folder_id=...&filename=...
func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request, user domain.User) {
	q := r.URL.Query()
	folderID := strings.TrimSpace(q.Get("folder_id"))
	filename := strings.TrimSpace(q.Get("filename"))
	if folderID == "" || filename == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "folder_id and filename are required")
		return
	}
	ticket, err := s.app.PresignUpload(r.Context(), user, folderID, filename)
	if err != nil {
		writeAppError(w, r, "folder", err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// /uploads/complete
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req completeUploadRequest
	if msg, ok := s.decodeJSON(r, &req); !ok {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", msg)
		return
	}
	file, err := s.app.CompleteUpload(r.Context(), user, app.CompleteUpload{
		FolderID:  req.FolderID,
		ObjectKey: req.ObjectKey,
		Filename:  req.Filename,
		Bytes:     req.Bytes,
		Mime:      req.Mime,
	})
	if err != nil {
		writeAppError(w, r, "folder", err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

// /files?folder_id=...&limit=...
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, user domain.User) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "limit must be a positive integer")
			return
		}
		limit = n
	}
	files, err := s.app.ListFiles(r.Context(), user, q.Get("folder_id"), limit)
	if err != nil {
		writeAppError(w, r, "folder", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": files,
		"count": len(files),
	})
}

// /files/{id} or /files/{id}/download
func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/files/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" || (len(parts) == 2 && parts[1] != "download") {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		dl, err := s.app.DownloadURL(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, "file", err)
			return
		}
		writeJSON(w, http.StatusOK, dl)
		return
	}

	switch r.Method {
	case http.MethodGet:
		file, err := s.app.GetFile(r.Context(), user, id)
		if err != nil {
			writeAppError(w, r, "file", err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	case http.MethodDelete:
		if err := s.app.DeleteFile(r.Context(), user, id); err != nil {
			writeAppError(w, r, "file", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, r)
	}
}

// /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, user domain.User) {
	stats, err := s.app.Stats(r.Context(), user)
	if err != nil {
		writeAppError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

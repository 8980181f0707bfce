package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"eduflow/internal/ratelimit"
	"eduflow/internal/util"
	"eduflow/pkg/domain"
	"eduflow/pkg/extract"
	"eduflow/pkg/studygen"
	"eduflow/services/api/internal/app"
)

const (
	serviceName     = "api"
	maxJSONBytes    = 1 << 20
	multipartMemory = 32 << 20
	rateWindow      = time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AppName        string
	Version        string
	Environment    string
	AllowedOrigins []string
	MaxUploadBytes int64

	// Redis enables rate limiting of /register and /token when set.
	Redis                      redis.UniversalClient
	RegisterRateLimitPerMinute int
	TokenRateLimitPerMinute    int
	TrustedProxyCIDRs          []string
}

// Server exposes the HTTP API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	appName         string
	version         string
	environment     string
	allowedOrigins  []string
	maxUploadBytes  int64
	trustedProxies  *util.TrustedProxies
	registerLimiter *ratelimit.FixedWindowLimiter
	tokenLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		appName:        cfg.AppName,
		version:        cfg.Version,
		environment:    cfg.Environment,
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: cfg.MaxUploadBytes,
		trustedProxies: trusted,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 50 << 20
	}
	if cfg.Redis != nil {
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			if limit <= 0 {
				return nil, nil
			}
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "eduflow:api:ratelimit:"+name, limit, rateWindow)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if s.registerLimiter, err = newLimiter("register", cfg.RegisterRateLimitPerMinute); err != nil {
			return nil, err
		}
		if s.tokenLimiter, err = newLimiter("token", cfg.TokenRateLimitPerMinute); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	h := util.WithCORS(s.allowedOrigins)(s.mux)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(serviceName, h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/{$}", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)

	// auth
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/token", s.handleToken)
	s.mux.Handle("/users/me", s.authenticated(s.handleMe))

	// generation
	for _, p := range []string{"/upload", "/upload/{$}"} {
		s.mux.Handle(p, s.authenticated(s.handleUpload))
	}
	for _, p := range []string{"/generate", "/generate/{$}"} {
		s.mux.Handle(p, s.authenticated(s.handleGenerate))
	}
	s.mux.Handle("/generations", s.authenticated(s.handleGenerations))
	s.mux.Handle("/generations/", s.authenticated(s.handleGenerations))

	// study sessions
	for _, p := range []string{"/study-sessions", "/study-sessions/{$}"} {
		s.mux.Handle(p, s.authenticated(s.handleStudySessions))
	}

	s.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": s.appName, "version": s.version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "environment": s.environment})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeUnauthorized(w, "Not authenticated")
			return
		}
		user, err := s.app.UserFromToken(token)
		if err != nil {
			if !errors.Is(err, app.ErrUnauthorized) {
				writeAppError(w, r, err)
				return
			}
			s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
			writeUnauthorized(w, "Could not validate credentials")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		s.audit(r, "api.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(req.Email, req.Username, req.Password)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleToken implements the OAuth2 password grant with form-encoded credentials.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.tokenLimiter, "too many login attempts") {
		s.audit(r, "api.token", "rate_limited")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := r.ParseForm(); err != nil {
		s.audit(r, "api.token", "fail", "reason", "invalid_form")
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		s.audit(r, "api.token", "fail", "reason", "missing_fields")
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	token, user, err := s.app.IssueToken(username, password)
	if err != nil {
		s.audit(r, "api.token", "fail", "reason", "invalid_credentials")
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.token", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type generationResponse struct {
	Success      bool   `json:"success"`
	Result       string `json:"result"`
	GenerationID uint   `json:"generation_id"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+maxJSONBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	outputType := r.FormValue("output_type")
	if strings.TrimSpace(outputType) == "" {
		writeError(w, http.StatusBadRequest, "output_type is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeAppError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	gen, err := s.app.GenerateFromUpload(r.Context(), user, app.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, domain.OutputType(outputType))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generationResponse{Success: true, Result: gen.GeneratedContent, GenerationID: gen.ID})
}

type generateRequest struct {
	InputText  string `json:"input_text"`
	OutputType string `json:"output_type"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	gen, err := s.app.GenerateFromText(r.Context(), user, req.InputText, domain.OutputType(req.OutputType))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generationResponse{Success: true, Result: gen.GeneratedContent, GenerationID: gen.ID})
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/generations"), "/"); id != "" {
		s.handleGenerationByID(w, r, user, id)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	items, err := s.app.ListGenerations(user, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.ContentGeneration]{Items: items, Count: len(items)})
}

func (s *Server) handleGenerationByID(w http.ResponseWriter, r *http.Request, user domain.User, rawID string) {
	id, err := strconv.ParseUint(rawID, 10, strconv.IntSize)
	if err != nil || id == 0 {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	gen, err := s.app.GetGeneration(user, uint(id))
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "generation not found")
			return
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gen)
}

type studySessionRequest struct {
	SessionName     string  `json:"session_name"`
	Content         *string `json:"content"`
	DurationMinutes *int    `json:"duration_minutes"`
}

func (s *Server) handleStudySessions(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		var req studySessionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		session, err := s.app.CreateStudySession(user, req.SessionName, req.Content, req.DurationMinutes)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	case http.MethodGet:
		items, err := s.app.ListStudySessions(user)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse[domain.StudySession]{Items: items, Count: len(items)})
	default:
		methodNotAllowed(w)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, msg)
}

// writeAppError maps domain errors to responses. Server errors are logged
// with the request id and answered without the underlying error text.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "Email already registered")
	case errors.Is(err, app.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "Username already taken")
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeUnauthorized(w, "Incorrect username or password")
	case errors.Is(err, app.ErrUnauthorized):
		writeUnauthorized(w, "Could not validate credentials")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, extract.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "Only PDF and DOCX files are supported")
	case errors.Is(err, extract.ErrNotImplemented):
		writeError(w, http.StatusBadRequest, "DOCX parsing not implemented yet")
	case errors.Is(err, extract.ErrUnreadable):
		writeError(w, http.StatusBadRequest, "Could not read the uploaded file")
	case errors.Is(err, extract.ErrEmptyExtraction):
		writeError(w, http.StatusBadRequest, "No text could be extracted from the file")
	case errors.Is(err, studygen.ErrGeneration):
		writeServerError(w, r, err, "generation_error", "content generation failed")
	default:
		writeServerError(w, r, err, "internal_error", "internal server error")
	}
}

type serverErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func writeServerError(w http.ResponseWriter, r *http.Request, err error, code, msg string) {
	requestID := util.RequestIDFromRequest(r)
	util.LoggerFromContext(r.Context()).Error("request failed", "code", code, "err", err, "path", r.URL.Path)
	writeJSON(w, http.StatusInternalServerError, serverErrorResponse{Error: msg, Code: code, RequestID: requestID})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

// allowRate reports whether the request may proceed. A nil limiter disables
// the check.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

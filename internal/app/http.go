package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/authpw"
	"agora/api/internal/chat"
	"agora/api/internal/config"
	"agora/api/internal/errs"
	"agora/api/internal/flash"
	"agora/api/internal/guard"
	"agora/api/internal/posts"
	"agora/api/internal/session"
	"github.com/julienschmidt/httprouter"
)

const (
	MsgPostCreated = "New post successfully created."
	MsgPostUpdated = "Post successfully updated."
	MsgPostDeleted = "Post successfully deleted."
)

const maxFormBytes = 1 << 20

type HTTPServer struct {
	service *Service
	hub     *chat.Hub
	limiter *RateLimiter

	secret       []byte
	cookieName   string
	cookieSecure bool
	sessionTTL   time.Duration

	logger *slog.Logger
}

func NewHTTPServer(service *Service, hub *chat.Hub, cfg config.Config, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	rate, window := cfg.LoginRateLimit, cfg.LoginRateWindow
	if rate <= 0 {
		rate = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &HTTPServer{
		service:      service,
		hub:          hub,
		limiter:      NewRateLimiter(rate, window, cfg.TrustProxyHeaders, logger),
		secret:       []byte(cfg.SessionSecret),
		cookieName:   cfg.SessionCookie,
		cookieSecure: cfg.CookieSecure,
		sessionTTL:   ttl,
		logger:       logger,
	}
}

// Close stops the rate limiter's cleanup goroutine.
func (s *HTTPServer) Close() {
	s.limiter.Stop()
}

// identityHandler receives the identity resolved once for the request.
type identityHandler func(w http.ResponseWriter, r *http.Request, identity session.Identity, ps httprouter.Params)

func (s *HTTPServer) Handler() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMappedError(w, errRouteNotFound)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMappedError(w, errMethodNotAllowed)
	})

	router.HandlerFunc(http.MethodGet, "/api/health", s.handleHealth)
	router.HandlerFunc(http.MethodGet, "/api/ready", s.handleReady)

	router.Handler(http.MethodGet, "/", s.withIdentity(s.handleHome))
	router.Handler(http.MethodPost, "/register", s.limiter.Limit(s.withIdentity(s.handleRegister)))
	router.Handler(http.MethodPost, "/login", s.limiter.Limit(s.withIdentity(s.handleLogin)))
	router.Handler(http.MethodPost, "/logout", s.withIdentity(s.handleLogout))

	router.Handler(http.MethodGet, "/create-post", s.withIdentity(s.handleCreatePostScreen))
	router.Handler(http.MethodPost, "/create-post", s.withIdentity(s.handleCreatePost))
	router.Handler(http.MethodGet, "/post/:id", s.withIdentity(s.handleViewPost))
	router.Handler(http.MethodGet, "/post/:id/edit", s.withIdentity(s.handleEditPostScreen))
	router.Handler(http.MethodPost, "/post/:id/edit", s.withIdentity(s.handleEditPost))
	router.Handler(http.MethodPost, "/post/:id/delete", s.withIdentity(s.handleDeletePost))

	router.Handler(http.MethodGet, "/profile/:username", s.withIdentity(s.profile(TabPosts)))
	router.Handler(http.MethodGet, "/profile/:username/followers", s.withIdentity(s.profile(TabFollowers)))
	router.Handler(http.MethodGet, "/profile/:username/following", s.withIdentity(s.profile(TabFollowing)))
	router.Handler(http.MethodPost, "/addFollow/:username", s.withIdentity(s.handleAddFollow))
	router.Handler(http.MethodPost, "/removeFollow/:username", s.withIdentity(s.handleRemoveFollow))

	router.HandlerFunc(http.MethodPost, "/search", s.handleSearch)
	router.HandlerFunc(http.MethodPost, "/doesUsernameExist", s.handleUsernameExists)
	router.HandlerFunc(http.MethodPost, "/doesEmailExist", s.handleEmailExists)

	router.Handler(http.MethodGet, "/ws", chat.NewHandler(s.hub, s.authenticate, s.logger))

	return withRequestLog(s.logger, withRecovery(s.logger, router))
}

// Identity resolution

func (s *HTTPServer) tokenFrom(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return "", false
	}
	token, err := auth.ParseSignedToken(s.secret, cookie.Value)
	if err != nil {
		return "", false
	}
	return token, true
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    auth.SignToken(s.secret, token),
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// identify resolves the request's identity, starting an anonymous session
// when the cookie is missing, forged or expired. Writes extend the session.
func (s *HTTPServer) identify(w http.ResponseWriter, r *http.Request) session.Identity {
	ctx := r.Context()
	if token, ok := s.tokenFrom(r); ok {
		if identity, found := s.service.sessions.Resolve(ctx, token); found {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				if err := s.service.sessions.Touch(ctx, token); err != nil {
					s.logger.Warn("session touch failed", "request_id", RequestID(ctx), "error", err)
				} else {
					s.setSessionCookie(w, token)
				}
			}
			return identity
		}
	}

	identity, err := s.service.sessions.Establish(ctx, "", "", "")
	if err != nil {
		s.logger.Error("establish anonymous session failed", "request_id", RequestID(ctx), "error", err)
		return session.Identity{}
	}
	s.setSessionCookie(w, identity.Token)
	return identity
}

// authenticate is the chat handshake's view of the same cookie. It never
// creates a session.
func (s *HTTPServer) authenticate(r *http.Request) (session.Identity, bool) {
	token, ok := s.tokenFrom(r)
	if !ok {
		return session.Identity{}, false
	}
	identity, found := s.service.sessions.Resolve(r.Context(), token)
	if !found || !identity.Authenticated() {
		return session.Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) withIdentity(h identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		}
		identity := s.identify(w, r)
		h(w, r, identity, httprouter.ParamsFromContext(r.Context()))
	})
}

// signIn replaces the pre-login token with a fresh authenticated one.
func (s *HTTPServer) signIn(ctx context.Context, w http.ResponseWriter, previous session.Identity, account authpw.Account) error {
	identity, err := s.service.sessions.Establish(ctx, account.ID, account.Username, account.AvatarRef)
	if err != nil {
		return errs.Unavailable("establish session", err)
	}
	if previous.Token != "" {
		if err := s.service.sessions.Destroy(ctx, previous.Token); err != nil {
			s.logger.Warn("destroy previous session failed", "error", err)
		}
		if err := s.service.flash.Clear(ctx, previous.Token); err != nil {
			s.logger.Warn("clear previous flash failed", "error", err)
		}
	}
	s.setSessionCookie(w, identity.Token)
	return nil
}

// Responses

func redirect(w http.ResponseWriter, r *http.Request, location string) {
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// fail carries err to the next page as flash messages and redirects there.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, identity session.Identity, category string, err error, location string) {
	s.service.Notify(r.Context(), identity, category, errs.UserMessages(err)...)
	redirect(w, r, location)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

// decodeBody reports a malformed body as a 400 DomainError.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "empty body", nil)
	}
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFormBytes)).Decode(target); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

func profilePath(username string) string {
	return "/profile/" + url.PathEscape(username)
}

func postPath(id string) string {
	return "/post/" + url.PathEscape(id)
}

// Health

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ok, checks := s.service.Ready(ctx)
	status, statusCode := "ready", http.StatusOK
	if !ok {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ok,
		"status": status,
		"checks": checks,
	})
}

// Pages

func (s *HTTPServer) handleHome(w http.ResponseWriter, r *http.Request, identity session.Identity, _ httprouter.Params) {
	view, err := s.service.Home(r.Context(), identity)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	view.Flash = s.service.DrainFlash(r.Context(), identity)
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCreatePostScreen(w http.ResponseWriter, r *http.Request, identity session.Identity, _ httprouter.Params) {
	if err := guard.RequireAuthenticated(identity); err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flash": s.service.DrainFlash(r.Context(), identity)})
}

type postView struct {
	Post  posts.Post `json:"post"`
	Flash Flash      `json:"flash"`
}

func (s *HTTPServer) handleViewPost(w http.ResponseWriter, r *http.Request, identity session.Identity, ps httprouter.Params) {
	post, err := s.service.posts.FindByID(r.Context(), ps.ByName("id"), identity.UserID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postView{Post: post, Flash: s.service.DrainFlash(r.Context(), identity)})
}

func (s *HTTPServer) handleEditPostScreen(w http.ResponseWriter, r *http.Request, identity session.Identity, ps httprouter.Params) {
	post, err := s.service.posts.FindByID(r.Context(), ps.ByName("id"), identity.UserID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if !post.IsOwner {
		s.fail(w, r, identity, flash.Errors, errs.ErrPermissionDenied, "/")
		return
	}
	writeJSON(w, http.StatusOK, postView{Post: post, Flash: s.service.DrainFlash(r.Context(), identity)})
}

func (s *HTTPServer) profile(tab string) identityHandler {
	return func(w http.ResponseWriter, r *http.Request, identity session.Identity, ps httprouter.Params) {
		view, err := s.service.Profile(r.Context(), ps.ByName("username"), identity, tab)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		view.Flash = s.service.DrainFlash(r.Context(), identity)
		writeJSON(w, http.StatusOK, view)
	}
}

// Accounts

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request, identity session.Identity, _ httprouter.Params) {
	account, err := s.service.accounts.Register(r.Context(), authpw.RegisterRequest{
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	})
	if err != nil {
		s.fail(w, r, identity, flash.RegErrors, err, "/")
		return
	}
	if err := s.signIn(r.Context(), w, identity, account); err != nil {
		s.fail(w, r, identity, flash.RegErrors, err, "/")
		return
	}
	redirect(w, r, "/")
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request, identity session.Identity, _ httprouter.Params) {
	account, err := s.service.accounts.Login(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/")
		return
	}
	if err := s.signIn(r.Context(), w, identity, account); err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/")
		return
	}
	redirect(w, r, "/")
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request, identity session.Identity, _ httprouter.Params) {
	if err := guard.RequireAuthenticated(identity); err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/")
		return
	}
	ctx := r.Context()
	if err := s.service.sessions.Destroy(ctx, identity.Token); err != nil {
		s.logger.Warn("destroy session failed", "request_id", RequestID(ctx), "error", err)
	}
	if err := s.service.flash.Clear(ctx, identity.Token); err != nil {
		s.logger.Warn("clear flash failed", "request_id", RequestID(ctx), "error", err)
	}
	// Chat connections opened under this session stop speaking for it.
	s.hub.DisconnectSession(identity.Token)
	s.clearSessionCookie(w)
	redirect(w, r, "/")
}

type existsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (s *HTTPServer) handleUsernameExists(w http.ResponseWriter, r *http.Request) {
	var body existsRequest
	if err := decodeBody(r, &body); err != nil {
		writeMappedError(w, err)
		return
	}
	exists, err := s.service.accounts.UsernameExists(r.Context(), body.Username)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exists)
}

func (s *HTTPServer) handleEmailExists(w http.ResponseWriter, r *http.Request) {
	var body existsRequest
	if err := decodeBody(r, &body); err != nil {
		writeMappedError(w, err)
		return
	}
	exists, err := s.service.accounts.EmailExists(r.Context(), body.Email)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exists)
}

// Posts

func (s *HTTPServer) handleCreatePost(w http.ResponseWriter, r *http.Request, identity session.Identity, _ httprouter.Params) {
	if err := guard.RequireAuthenticated(identity); err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/")
		return
	}
	id, err := s.service.posts.Create(r.Context(), identity.UserID, identity.Username, r.PostFormValue("title"), r.PostFormValue("body"))
	if err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/create-post")
		return
	}
	s.service.Notify(r.Context(), identity, flash.Success, MsgPostCreated)
	redirect(w, r, postPath(id))
}

func (s *HTTPServer) handleEditPost(w http.ResponseWriter, r *http.Request, identity session.Identity, ps httprouter.Params) {
	id := ps.ByName("id")
	err := s.service.posts.Update(r.Context(), id, identity.UserID, r.PostFormValue("title"), r.PostFormValue("body"))
	var validation *errs.ValidationError
	switch {
	case err == nil:
		s.service.Notify(r.Context(), identity, flash.Success, MsgPostUpdated)
		redirect(w, r, postPath(id)+"/edit")
	case errors.As(err, &validation), errors.Is(err, errs.ErrStoreUnavailable):
		// The owner can fix the input on the edit screen.
		s.fail(w, r, identity, flash.Errors, err, postPath(id)+"/edit")
	default:
		s.fail(w, r, identity, flash.Errors, err, "/")
	}
}

func (s *HTTPServer) handleDeletePost(w http.ResponseWriter, r *http.Request, identity session.Identity, ps httprouter.Params) {
	if err := s.service.posts.Delete(r.Context(), ps.ByName("id"), identity.UserID); err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/")
		return
	}
	s.service.Notify(r.Context(), identity, flash.Success, MsgPostDeleted)
	redirect(w, r, profilePath(identity.Username))
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SearchTerm string `json:"searchTerm"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusOK, []posts.Post{})
		return
	}
	writeJSON(w, http.StatusOK, s.service.posts.Search(r.Context(), body.SearchTerm))
}

// Follows

func (s *HTTPServer) handleAddFollow(w http.ResponseWriter, r *http.Request, identity session.Identity, ps httprouter.Params) {
	username := ps.ByName("username")
	if err := s.service.follows.Create(r.Context(), identity.UserID, username); err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/")
		return
	}
	s.service.Notify(r.Context(), identity, flash.Success, "Successfully followed "+username)
	redirect(w, r, profilePath(username))
}

func (s *HTTPServer) handleRemoveFollow(w http.ResponseWriter, r *http.Request, identity session.Identity, ps httprouter.Params) {
	username := ps.ByName("username")
	if err := s.service.follows.Delete(r.Context(), identity.UserID, username); err != nil {
		s.fail(w, r, identity, flash.Errors, err, "/")
		return
	}
	s.service.Notify(r.Context(), identity, flash.Success, "Successfully stopped following "+username)
	redirect(w, r, profilePath(username))
}

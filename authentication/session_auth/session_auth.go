// Package session_auth reads the signed session cookie issued by the sign-in
// service.
package session_auth

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/jhchabran/agora/authentication"
	"github.com/rs/zerolog"
)

const (
	SessionName = "agora_session"
	userKey     = "user"
)

type Handler struct {
	sessionStore sessions.Store
	logger       zerolog.Logger
}

var _ authentication.AuthService = (*Handler)(nil)

func New(sessionStore sessions.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		sessionStore: sessionStore,
		logger:       logger.With().Str("component", "session_auth").Logger(),
	}
}

// CurrentUser returns the user stored in the session, or nil when the request
// carries none.
func (h *Handler) CurrentUser(req *http.Request) (*authentication.User, error) {
	session, err := h.sessionStore.Get(req, SessionName)
	if err != nil {
		// a cookie signed with another secret is the same as no cookie
		h.logger.Debug().Err(err).Msg("Ignoring unreadable session")
		return nil, nil
	}

	b, ok := session.Values[userKey].([]byte)
	if !ok {
		return nil, nil
	}

	var u authentication.User
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, nil
	}

	return &u, nil
}

// SignIn stores u in the session. Production sessions are written by the
// sign-in service sharing the same secret; this is used by it and by tests.
func (h *Handler) SignIn(res http.ResponseWriter, req *http.Request, u *authentication.User) error {
	session, err := h.sessionStore.Get(req, SessionName)
	if err != nil && session == nil {
		return err
	}

	b, err := json.Marshal(u)
	if err != nil {
		return err
	}

	session.Values[userKey] = b
	return session.Save(req, res)
}

func (h *Handler) SignOut(res http.ResponseWriter, req *http.Request) error {
	session, err := h.sessionStore.Get(req, SessionName)
	if err != nil && session == nil {
		return err
	}

	session.Options.MaxAge = -1
	return session.Save(req, res)
}

package agora

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/jhchabran/agora/authentication"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

func TestWithMiddlewares(t *testing.T) {
	c := qt.New(t)

	handler := func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {}

	c.Run("calls middlewares", func(c *qt.C) {
		s1 := false
		m1 := func(h httprouter.Handle) httprouter.Handle { s1 = true; return h }

		withMiddlewares(func(m middleware) { m(handler) }, m1)
		c.Assert(s1, qt.IsTrue)
	})

	c.Run("passing m1, m2, m3 run them in that order", func(c *qt.C) {
		trace := []int{}
		m1 := func(h httprouter.Handle) httprouter.Handle {
			return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				trace = append(trace, 1)
				h(w, r, p)
			}
		}
		m2 := func(h httprouter.Handle) httprouter.Handle {
			return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				trace = append(trace, 2)
				h(w, r, p)
			}
		}
		m3 := func(h httprouter.Handle) httprouter.Handle {
			return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				trace = append(trace, 3)
				h(w, r, p)
			}
		}

		var h httprouter.Handle
		withMiddlewares(func(m middleware) { h = m(handler) },
			m1,
			m2,
			m3)

		h(httptest.NewRecorder(), &http.Request{}, httprouter.Params{})

		c.Assert(trace, qt.DeepEquals, []int{1, 2, 3})
	})
}

type stubAuth struct {
	user *authentication.User
	err  error
}

func (a *stubAuth) CurrentUser(*http.Request) (*authentication.User, error) {
	return a.user, a.err
}

func (a *stubAuth) SignOut(http.ResponseWriter, *http.Request) error {
	return nil
}

// usersStore only knows how to find users, which is all loading a session needs.
type usersStore struct {
	users map[string]*User
	err   error
}

type usersTx struct {
	Tx
	store *usersStore
}

func (s *usersStore) Connect() error { return nil }
func (s *usersStore) Close() error   { return nil }

func (s *usersStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(&usersTx{store: s})
}

func (tx *usersTx) FindUser(id string) (*User, error) {
	u, ok := tx.store.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func newMiddlewareServer(c *qt.C, auth *stubAuth, store *usersStore) *Server {
	engine := NewEngine(&EngineConfig{}, store, nil, zerolog.Nop())
	c.Cleanup(engine.Close)
	return NewServer(&ServerConfig{}, zerolog.Nop(), engine, auth, nil)
}

// serve runs handle behind the session and user middlewares, returning the
// response and the user the handler saw.
func serve(s *Server, withUser bool) (*httptest.ResponseRecorder, *User, *authentication.User) {
	var seenUser *User
	var seenSession *authentication.User
	handle := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		seenUser = ctxUser(r.Context())
		seenSession = ctxSession(r.Context())
	}

	ms := []middleware{s.loadSessionMiddleware()}
	if withUser {
		ms = append(ms, s.loadUserMiddleware())
	}

	var h httprouter.Handle
	withMiddlewares(func(m middleware) { h = m(handle) }, ms...)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/", nil), nil)
	return rec, seenUser, seenSession
}

func TestLoadSessionMiddleware(t *testing.T) {
	c := qt.New(t)

	c.Run("no session", func(c *qt.C) {
		s := newMiddlewareServer(c, &stubAuth{}, &usersStore{})
		rec, _, session := serve(s, false)
		c.Assert(rec.Code, qt.Equals, http.StatusOK)
		c.Assert(session, qt.IsNil)
	})

	c.Run("session", func(c *qt.C) {
		s := newMiddlewareServer(c, &stubAuth{user: &authentication.User{ID: "u1"}}, &usersStore{})
		rec, _, session := serve(s, false)
		c.Assert(rec.Code, qt.Equals, http.StatusOK)
		c.Assert(session.ID, qt.Equals, "u1")
	})

	c.Run("broken session", func(c *qt.C) {
		s := newMiddlewareServer(c, &stubAuth{err: errors.New("boom")}, &usersStore{})
		rec, _, _ := serve(s, false)
		c.Assert(rec.Code, qt.Equals, http.StatusInternalServerError)
	})
}

func TestLoadUserMiddleware(t *testing.T) {
	c := qt.New(t)
	alpha := &User{ID: "u1", Name: "alpha"}
	users := map[string]*User{"u1": alpha}

	c.Run("no session is unauthorized", func(c *qt.C) {
		s := newMiddlewareServer(c, &stubAuth{}, &usersStore{users: users})
		rec, user, _ := serve(s, true)
		c.Assert(rec.Code, qt.Equals, http.StatusUnauthorized)
		c.Assert(user, qt.IsNil)
	})

	c.Run("unknown user is unauthorized", func(c *qt.C) {
		s := newMiddlewareServer(c, &stubAuth{user: &authentication.User{ID: "ghost"}}, &usersStore{users: users})
		rec, _, _ := serve(s, true)
		c.Assert(rec.Code, qt.Equals, http.StatusUnauthorized)
	})

	c.Run("loads the user record", func(c *qt.C) {
		s := newMiddlewareServer(c, &stubAuth{user: &authentication.User{ID: "u1"}}, &usersStore{users: users})
		rec, user, _ := serve(s, true)
		c.Assert(rec.Code, qt.Equals, http.StatusOK)
		c.Assert(user, qt.Equals, alpha)
	})

	c.Run("store failure", func(c *qt.C) {
		s := newMiddlewareServer(c, &stubAuth{user: &authentication.User{ID: "u1"}}, &usersStore{err: errors.New("db down")})
		rec, _, _ := serve(s, true)
		c.Assert(rec.Code, qt.Equals, http.StatusInternalServerError)
	})
}

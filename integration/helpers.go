package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	qt "github.com/frankban/quicktest"
	"github.com/gorilla/sessions"
	"github.com/jhchabran/agora"
	"github.com/jhchabran/agora/authentication"
	"github.com/jhchabran/agora/authentication/session_auth"
	"github.com/jhchabran/agora/memstore"
	"github.com/jhchabran/agora/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// testingLogWriter is an output target for zerolog which will print on the testing logger.
type testingLogWriter struct {
	c *qt.C
}

// Write outputs on the passed bytes on the test logger
func (l *testingLogWriter) Write(p []byte) (n int, err error) {
	str := string(p[0 : len(p)-1]) // drop the final \n
	l.c.Log(str)
	return len(p), nil
}

// A struct to hold the server and its components.
// Provides a few helpers for convenience.
type testContext struct {
	c          *qt.C
	ctx        context.Context
	server     *agora.Server
	testServer *httptest.Server
	engine     *agora.Engine
	store      *memstore.Store
	auth       *session_auth.Handler
}

// newTestContext creates a server instance with its component initialized for integration testing.
func newTestContext(c *qt.C) *testContext {
	tc := testContext{c: c, ctx: context.Background()}

	w := testingLogWriter{c}
	output := zerolog.ConsoleWriter{Out: &w, NoColor: true}
	logger := zerolog.New(output)

	reg := prometheus.NewRegistry()
	tc.store = memstore.New()
	tc.engine = agora.NewEngine(&agora.EngineConfig{}, tc.store, nil, logger, agora.WithMetrics(metrics.New(reg)))

	sessionStore := sessions.NewCookieStore([]byte("test"))
	tc.auth = session_auth.New(sessionStore, logger)

	tc.server = agora.NewServer(&agora.ServerConfig{}, logger, tc.engine, tc.auth, reg)
	tc.testServer = httptest.NewServer(tc.server)

	return &tc
}

// url returns an url to the test server based on the given path
func (tc *testContext) url(path string) string {
	return tc.testServer.URL + path
}

// prepareServer boots up the server and sets up its teardown for the current test
func (tc *testContext) prepareServer() {
	tc.c.Assert(tc.server.Prepare(), qt.IsNil, qt.Commentf("couldn't prepare the server"))
	tc.c.Cleanup(func() {
		tc.testServer.Close()
		tc.engine.Close()
	})
}

func (tc *testContext) createUser(name string) *agora.User {
	u := agora.NewUser(name)
	tc.c.Assert(tc.engine.CreateUser(tc.ctx, u), qt.IsNil)
	return u
}

func (tc *testContext) createQuestion(author *agora.User) *agora.Question {
	q := agora.NewQuestion("Why is the sky blue?", "Serious question.", author.ID)
	tc.c.Assert(tc.engine.CreateQuestion(tc.ctx, q), qt.IsNil)
	return q
}

// client sends requests to the test server, signed in as user when set.
type client struct {
	tc      *testContext
	cookies []*http.Cookie
}

func (tc *testContext) newClient() *client {
	return &client{tc: tc}
}

// newAuthenticatedClient returns a client carrying a session cookie for u, as
// the sign-in service would have issued it.
func (tc *testContext) newAuthenticatedClient(u *agora.User) *client {
	rec := httptest.NewRecorder()
	err := tc.auth.SignIn(rec, httptest.NewRequest("GET", "/", nil), &authentication.User{ID: u.ID, Name: u.Name})
	tc.c.Assert(err, qt.IsNil)

	return &client{tc: tc, cookies: rec.Result().Cookies()}
}

// do sends a request with body encoded as JSON, decoding the response into out
// when it is not nil. It returns the response, whose body is already consumed.
func (cl *client) do(method string, path string, body interface{}, out interface{}) *http.Response {
	c := cl.tc.c

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		c.Assert(err, qt.IsNil)
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, cl.tc.url(path), r)
	c.Assert(err, qt.IsNil)
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range cl.cookies {
		req.AddCookie(ck)
	}

	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		c.Assert(json.NewDecoder(resp.Body).Decode(out), qt.IsNil)
	}
	return resp
}

package admin

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

// The invariant: a wrong or missing token never reaches the handler.
type AdminMiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestAdminMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AdminMiddlewareSuite))
}

func (s *AdminMiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func (s *AdminMiddlewareSuite) serve(expected string, headers map[string]string) (bool, string, int) {
	called := false
	actor := ""
	h := RequireAdminToken(expected, s.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		actor = Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return called, actor, rec.Code
}

func (s *AdminMiddlewareSuite) TestCorrectTokenPassesWithActor() {
	called, actor, code := s.serve("ops-token", map[string]string{
		"X-Admin-Token":    "ops-token",
		"X-Admin-Actor-ID": "oncall@example.org",
	})
	s.True(called)
	s.Equal("oncall@example.org", actor)
	s.Equal(http.StatusNoContent, code)
}

func (s *AdminMiddlewareSuite) TestRejected() {
	cases := map[string]struct {
		expected string
		headers  map[string]string
	}{
		"wrong token":        {"ops-token", map[string]string{"X-Admin-Token": "guess"}},
		"missing token":      {"ops-token", nil},
		"unconfigured token": {"", map[string]string{"X-Admin-Token": ""}},
		"token prefix only":  {"ops-token", map[string]string{"X-Admin-Token": "ops"}},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			called, _, code := s.serve(tc.expected, tc.headers)
			s.False(called)
			s.Equal(http.StatusUnauthorized, code)
		})
	}
}

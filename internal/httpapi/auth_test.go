package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const testOperatorToken = "operator-token-0123"

func newGuardedServer(t *testing.T, stories *fakeStories) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testOperatorToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	return NewServer(Deps{Stories: stories}, zerolog.Nop(), Options{AdminTokenHash: string(hash)})
}

func postWithAuth(server *Server, path, body, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestOperatorTokenGuardsMutatingRoutes(t *testing.T) {
	t.Parallel()

	stories := newFakeStories()
	server := newGuardedServer(t, stories)
	body := `{"title":"Council approves budget","url":"https://example.com/a","sourceName":"Example","publishedAt":"2026-03-01T10:00:00Z"}`

	cases := []struct {
		name          string
		authorization string
		want          int
	}{
		{name: "missing token", want: http.StatusUnauthorized},
		{name: "wrong token", authorization: "Bearer operator-token-9999", want: http.StatusUnauthorized},
		{name: "wrong scheme", authorization: "Basic " + testOperatorToken, want: http.StatusUnauthorized},
		{name: "valid token", authorization: "Bearer " + testOperatorToken, want: http.StatusCreated},
	}
	for _, tc := range cases {
		rec := postWithAuth(server, "/api/v1/articles", body, tc.authorization)
		if rec.Code != tc.want {
			t.Fatalf("%s: unexpected status: got %d want %d (%s)", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}

	stories.mu.Lock()
	defer stories.mu.Unlock()
	if len(stories.ingested) != 1 {
		t.Fatalf("unexpected ingested count: got %d want 1", len(stories.ingested))
	}
}

func TestOperatorTokenLeavesReadsOpen(t *testing.T) {
	t.Parallel()

	server := newGuardedServer(t, newFakeStories())
	rec, resp := serve(t, server, http.MethodGet, "/api/v1/stories/"+testStoryID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if resp.Status != "success" {
		t.Fatalf("unexpected jsend status: got %q want success", resp.Status)
	}
}

func TestOperatorTokenRejectionEnvelope(t *testing.T) {
	t.Parallel()

	server := newGuardedServer(t, newFakeStories())
	rec := postWithAuth(server, "/api/v1/recheck", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Header().Get(echo.HeaderWWWAuthenticate); !strings.HasPrefix(got, "Bearer") {
		t.Fatalf("unexpected WWW-Authenticate header: %q", got)
	}

	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != statusFail || resp.Message == "" || resp.Data != nil {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}

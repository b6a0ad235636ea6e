package githublink

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestAuthURL_CarriesUserID(t *testing.T) {
	store := newTestLinkStore(t)
	f := NewFlow("client-id", "secret", "http://localhost:3000/github/callback", store, nil, discardLogger())

	u := f.AuthURL("U1")
	if !strings.Contains(u, "state=U1") {
		t.Errorf("auth url missing state: %s", u)
	}
	if !strings.Contains(u, "client_id=client-id") {
		t.Errorf("auth url missing client id: %s", u)
	}
}

func TestCallback_LinksAccount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token": "gho_test", "token_type": "bearer"}`)
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"login": "octocat"}`)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	store := newTestLinkStore(t)
	f := NewFlow("client-id", "secret", ts.URL+"/github/callback", store, ts.Client(), discardLogger())
	f.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:  ts.URL + "/auth",
		TokenURL: ts.URL + "/token",
	}
	f.apiBase = ts.URL

	req := httptest.NewRequest(http.MethodGet, "/github/callback?code=abc&state=U1", nil)
	rr := httptest.NewRecorder()
	f.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	link, err := store.Get("U1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if link.Username != "octocat" || link.AccessToken != "gho_test" {
		t.Errorf("link = %+v", link)
	}
}

func TestCallback_RejectsMissingParams(t *testing.T) {
	store := newTestLinkStore(t)
	f := NewFlow("client-id", "secret", "http://localhost:3000/github/callback", store, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/github/callback?code=abc", nil)
	rr := httptest.NewRecorder()
	f.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

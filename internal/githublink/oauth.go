package githublink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gogithub "github.com/google/go-github/v69/github"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

// Flow runs the GitHub OAuth linking flow. The state parameter carries
// the chat user id, so the callback knows which user just authorized.
type Flow struct {
	oauth  *oauth2.Config
	store  *LinkStore
	logger *slog.Logger

	// apiBase overrides the GitHub API endpoint in tests.
	apiBase    string
	httpClient *http.Client
}

// NewFlow creates an OAuth flow against github.com.
func NewFlow(clientID, clientSecret, redirectURL string, store *LinkStore, httpClient *http.Client, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"repo", "read:user"},
			Endpoint:     oauthgithub.Endpoint,
		},
		store:      store,
		logger:     logger.With("component", "githublink"),
		httpClient: httpClient,
	}
}

// AuthURL returns the authorization URL to send the user to.
func (f *Flow) AuthURL(userID string) string {
	return f.oauth.AuthCodeURL(userID)
}

// Handler serves the OAuth redirect: exchanges the code for a token,
// resolves the GitHub username, and stores the link.
func (f *Flow) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		userID := r.URL.Query().Get("state")
		if code == "" || userID == "" {
			http.Error(w, "missing code or state", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if f.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
		}

		token, err := f.oauth.Exchange(ctx, code)
		if err != nil {
			f.logger.Error("oauth exchange failed", "error", err)
			http.Error(w, "token exchange failed", http.StatusBadGateway)
			return
		}

		client := apiClient(f.httpClient, token.AccessToken, f.apiBase)
		user, _, err := client.Users.Get(ctx, "")
		if err != nil {
			f.logger.Error("resolve github user failed", "error", err)
			http.Error(w, "could not resolve github user", http.StatusBadGateway)
			return
		}

		link := &Link{
			UserID:      userID,
			AccessToken: token.AccessToken,
			Username:    user.GetLogin(),
			LinkedAt:    time.Now().UTC(),
		}
		if err := f.store.Upsert(link); err != nil {
			f.logger.Error("store link failed", "error", err)
			http.Error(w, "could not store link", http.StatusInternalServerError)
			return
		}

		f.logger.Info("github account linked", "user_id", userID, "username", link.Username)
		fmt.Fprintf(w, "GitHub account linked as %s. You can close this tab.", link.Username)
	})
}

// Serve runs the callback handler on addr until ctx is canceled.
func (f *Flow) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/github/callback", f.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	f.logger.Info("oauth callback listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("oauth callback server: %w", err)
	}
	return nil
}

// apiClient builds an authenticated go-github client. base overrides
// the API endpoint when non-empty.
func apiClient(httpClient *http.Client, token, base string) *gogithub.Client {
	c := gogithub.NewClient(httpClient).WithAuthToken(token)
	if base != "" {
		if u, err := url.Parse(base + "/"); err == nil {
			c.BaseURL = u
		}
	}
	return c
}

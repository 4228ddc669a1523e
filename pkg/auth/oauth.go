package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/taskweave/pkg/config"
)

const (
	// ClientSecretsFile is the Google API credentials.json downloaded from
	// the cloud console. It lives in the config directory.
	ClientSecretsFile = "credentials.json"

	// LocalhostAuthPort is the port the local web server listens on to
	// capture the OAuth redirect.
	LocalhostAuthPort = "6789"

	oobRedirect = "urn:ietf:wg:oauth:2.0:oob"
)

// Scopes covers both resource kinds: read/write task lists and read-only
// calendars.
var Scopes = []string{
	tasks.TasksScope,
	calendar.CalendarReadonlyScope,
}

// TokenFile is the cached token of one account.
func TokenFile(dir, account string) string {
	if account == "" {
		account = config.DefaultAccount
	}
	return filepath.Join(dir, fmt.Sprintf("token-%s.json", account))
}

// GetConfig creates an oauth2.Config from the client secrets file and specified scopes.
func GetConfig(scopes []string) (*oauth2.Config, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	clientSecretsFile := filepath.Join(dir, ClientSecretsFile)
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err)
	}
	return configFromJSON(b, scopes)
}

func configFromJSON(b []byte, scopes []string) (*oauth2.Config, error) {
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	cfg.RedirectURL = fixRedirect(cfg.RedirectURL)
	return cfg, nil
}

// fixRedirect points localhost and out-of-band redirects at the port the
// local callback server listens on.
func fixRedirect(redirect string) string {
	if redirect == oobRedirect {
		fixed := fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
		log.Info().Str("redirect_url", fixed).Msg("overriding out-of-band redirect")
		return fixed
	}

	parsed, err := url.Parse(redirect)
	if err != nil {
		log.Warn().Err(err).Str("redirect_url", redirect).Msg("could not parse redirect url, using it as is")
		return redirect
	}
	if parsed.Hostname() != "localhost" && parsed.Hostname() != "127.0.0.1" {
		log.Warn().Str("redirect_url", redirect).Msg("redirect url is neither localhost nor out-of-band")
		return redirect
	}
	if parsed.Port() != LocalhostAuthPort {
		if parsed.Port() != "" {
			log.Warn().Str("port", parsed.Port()).Msg("forcing localhost redirect to the callback port")
		}
		parsed.Host = net.JoinHostPort(parsed.Hostname(), LocalhostAuthPort)
	}
	return parsed.String()
}

// GetClient retrieves an authenticated *http.Client for account. It loads
// the account's cached token, or runs the web authorization flow when
// there is none. Refreshed tokens are written back to the cache.
func GetClient(ctx context.Context, scopes []string, account string) (*http.Client, error) {
	cfg, err := GetConfig(scopes)
	if err != nil {
		return nil, err
	}
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	tokenFile := TokenFile(dir, account)
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		log.Info().Str("token_file", tokenFile).Msg("no cached token, starting web authorization")
		tok, err = getTokenFromWeb(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, err
		}
	}

	src := &savingSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// Authorize runs the web flow for account unconditionally, replacing any
// cached token.
func Authorize(ctx context.Context, account string) error {
	cfg, err := GetConfig(Scopes)
	if err != nil {
		return err
	}
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	tok, err := getTokenFromWeb(ctx, cfg)
	if err != nil {
		return err
	}
	return saveToken(TokenFile(dir, account), tok)
}

// savingSource persists every token that differs from the last one seen.
type savingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		if err := saveToken(s.path, tok); err != nil {
			log.Warn().Err(err).Msg("could not cache refreshed token")
		}
		s.last = tok
	}
	return tok, nil
}

// getTokenFromWeb runs the authorization code flow through a local web
// server that captures the redirect.
func getTokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler:      callbackHandler(codeCh, errCh),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Shutdown(context.Background())

	go func() {
		log.Info().Str("redirect_url", cfg.RedirectURL).Msg("waiting for the oauth redirect")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// offline access is what yields a refresh token
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Please open the following URL in your browser to authorize taskweave:\n%s\n", authURL)

	select {
	case code := <-codeCh:
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authorization timed out. Please try again")
	}
}

func callbackHandler(codeCh chan<- string, errCh chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Authorization code not found", http.StatusBadRequest)
			select {
			case errCh <- fmt.Errorf("authorization code not found in redirect URL"):
			default:
			}
			return
		}
		fmt.Fprintf(w, "Authentication successful! You can close this window.")
		select {
		case codeCh <- code:
		default:
		}
	})
}

// tokenFromFile reads an oauth2.Token from a JSON file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

// saveToken writes an oauth2.Token to a JSON file readable only by its owner.
func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	log.Debug().Str("token_file", path).Msg("saved oauth token")
	return json.NewEncoder(f).Encode(token)
}

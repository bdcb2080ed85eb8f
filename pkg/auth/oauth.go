package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/taskbot/pkg/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/calendar/v3"
)

const (
	// LocalhostAuthPort is the port the HTTP server listens on to capture the
	// OAuth redirect.
	LocalhostAuthPort = "6789"

	// FlowTimeout bounds how long a started authorization waits for its code.
	FlowTimeout = 10 * time.Minute
)

type State string

const (
	Unlinked     State = "unlinked"
	AwaitingCode State = "awaiting_code"
	Linked       State = "linked"
)

var (
	ErrNotLinked = fmt.Errorf("%w: Google Calendar is not linked, run /calendar_auth first", model.ErrAuth)
	ErrNoFlow    = fmt.Errorf("%w: no authorization in progress for this chat, run /calendar_auth again", model.ErrAuth)
	ErrNoClient  = fmt.Errorf("%w: missing credentials.json, place the Google OAuth client file in the config directory", model.ErrAuth)
)

// Scopes requested for the linked account.
var Scopes = []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope}

// AuthStart is returned when a chat begins linking.
type AuthStart struct {
	URL    string
	Handle string
}

type flow struct {
	handle  string
	chatID  string
	userID  int64
	started time.Time
}

// Manager holds the single calendar credential of the installation and the
// authorization flows chats have started.
type Manager struct {
	config    *oauth2.Config
	tokenFile string
	now       func() time.Time

	mu    sync.Mutex
	tok   *oauth2.Token
	flows map[string]*flow // chat id -> flow

	refresh singleflight.Group
}

// LoadConfig creates an oauth2.Config from the client secrets file.
// redirectURL overrides the one in the file when set.
func LoadConfig(clientSecretsFile, redirectURL string) (*oauth2.Config, error) {
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err)
	}

	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	if redirectURL != "" {
		config.RedirectURL = redirectURL
		return config, nil
	}

	parsedURL, parseErr := url.Parse(config.RedirectURL)
	switch {
	case config.RedirectURL == "" || config.RedirectURL == "urn:ietf:wg:oauth:2.0:oob":
		config.RedirectURL = fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
		log.Printf("Using RedirectURL %s", config.RedirectURL)
	case parseErr != nil:
		log.Printf("Warning: Could not parse RedirectURL '%s': %v. Using it as is.", config.RedirectURL, parseErr)
	case parsedURL.Hostname() == "localhost" || parsedURL.Hostname() == "127.0.0.1":
		parsedURL.Host = fmt.Sprintf("%s:%s", parsedURL.Hostname(), LocalhostAuthPort)
		if parsedURL.Path == "" || parsedURL.Path == "/" {
			parsedURL.Path = "/oauth2callback"
		}
		config.RedirectURL = parsedURL.String()
	default:
		log.Printf("Warning: RedirectURL in credentials.json is not a localhost callback: %s. Ensure it reaches /oauth2callback.", config.RedirectURL)
	}
	return config, nil
}

// NewManager loads the stored token, if any. config may be nil when no
// client secrets are installed; linking then fails with ErrNoClient.
func NewManager(config *oauth2.Config, tokenFile string) *Manager {
	m := &Manager{
		config:    config,
		tokenFile: tokenFile,
		now:       time.Now,
		flows:     make(map[string]*flow),
	}
	tok, err := tokenFromFile(tokenFile)
	switch {
	case err == nil:
		m.tok = tok
	case !os.IsNotExist(err):
		log.Printf("Warning: could not read token file %s: %v", tokenFile, err)
	}
	return m
}

// Status reports the linking state as seen from chatID.
func (m *Manager) Status(chatID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveFlow(chatID) != nil {
		return AwaitingCode
	}
	if m.tok != nil {
		return Linked
	}
	return Unlinked
}

// Begin starts an authorization scoped to chatID, replacing any flow the chat
// had already started.
func (m *Manager) Begin(chatID string, userID int64) (AuthStart, error) {
	if m.config == nil {
		return AuthStart{}, ErrNoClient
	}
	f := &flow{
		handle:  uuid.NewString(),
		chatID:  chatID,
		userID:  userID,
		started: m.now(),
	}

	m.mu.Lock()
	m.flows[chatID] = f
	m.mu.Unlock()

	// AccessTypeOffline is crucial to ensure a refresh token is returned.
	authURL := m.config.AuthCodeURL(f.handle, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	log.Printf("OAuth flow started for chat %s", chatID)
	return AuthStart{URL: authURL, Handle: f.handle}, nil
}

// Cancel drops the flow started by chatID, if any.
func (m *Manager) Cancel(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flows, chatID)
}

// Complete exchanges a code typed into chatID. Only the chat that started the
// flow can complete it. A rejected code keeps the flow so the user can retry.
func (m *Manager) Complete(ctx context.Context, chatID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: the authorization code is empty", model.ErrValidation)
	}

	m.mu.Lock()
	f := m.liveFlow(chatID)
	m.mu.Unlock()
	if f == nil {
		return ErrNoFlow
	}
	return m.exchange(ctx, f, code)
}

// CompleteByState finishes the flow whose handle came back on the redirect and
// returns the chat that started it.
func (m *Manager) CompleteByState(ctx context.Context, state, code string) (string, error) {
	m.mu.Lock()
	var found *flow
	for chatID := range m.flows {
		if f := m.liveFlow(chatID); f != nil && f.handle == state {
			found = f
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return "", ErrNoFlow
	}
	return found.chatID, m.exchange(ctx, found, code)
}

func (m *Manager) exchange(ctx context.Context, f *flow, code string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	tok, err := m.config.Exchange(ctx, code)
	if err != nil {
		log.Printf("OAuth code exchange failed for chat %s: %v", f.chatID, err)
		return fmt.Errorf("%w: Google rejected the code, copy the whole code and try again", model.ErrAuth)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.flows[f.chatID]; cur == f {
		delete(m.flows, f.chatID)
	}
	m.tok = tok
	if err := saveToken(m.tokenFile, tok); err != nil {
		log.Printf("Warning: could not save token: %v", err)
	}
	log.Printf("OAuth successful for chat %s", f.chatID)
	return nil
}

// liveFlow must be called with mu held. It drops the flow when it expired.
func (m *Manager) liveFlow(chatID string) *flow {
	f, ok := m.flows[chatID]
	if !ok {
		return nil
	}
	if m.now().Sub(f.started) > FlowTimeout {
		delete(m.flows, chatID)
		return nil
	}
	return f
}

// Token returns a valid credential, refreshing it when expired.
func (m *Manager) Token(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	tok := m.tok
	m.mu.Unlock()

	if tok == nil {
		return nil, ErrNotLinked
	}
	if tok.Valid() {
		return tok, nil
	}
	return m.Refresh(ctx, tok)
}

// Refresh exchanges the refresh token of tok for a new access token.
// Concurrent callers share one round trip; a caller arriving after a refresh
// gets the refreshed token without another request.
func (m *Manager) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok.RefreshToken == "" || m.config == nil {
		return nil, ErrNotLinked
	}
	v, err, _ := m.refresh.Do("token", func() (any, error) {
		m.mu.Lock()
		cur := m.tok
		m.mu.Unlock()
		if cur == nil {
			return nil, ErrNotLinked
		}
		if cur.Valid() {
			return cur, nil
		}

		// Force a round trip: the source only refreshes expired tokens.
		stale := *cur
		stale.Expiry = m.now().Add(-time.Minute)
		fresh, err := m.config.TokenSource(ctx, &stale).Token()
		if err != nil {
			return nil, m.refreshFailed(err)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		m.tok = fresh
		if fresh.AccessToken != cur.AccessToken || fresh.RefreshToken != cur.RefreshToken {
			log.Println("Token was refreshed. Saving new token to file.")
			if err := saveToken(m.tokenFile, fresh); err != nil {
				log.Printf("Warning: could not save refreshed token: %v", err)
			}
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// refreshFailed forgets the credential when Google revoked it. Other failures
// keep it for the next attempt.
func (m *Manager) refreshFailed(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client") {
		log.Printf("Refresh token rejected (%s), unlinking calendar", re.ErrorCode)
		m.mu.Lock()
		m.tok = nil
		m.mu.Unlock()
		if rmErr := os.Remove(m.tokenFile); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("Warning: could not delete token file %s: %v", m.tokenFile, rmErr)
		}
		return ErrNotLinked
	}
	log.Printf("Token refresh failed: %v", err)
	return fmt.Errorf("%w: could not refresh the Google token, try again later or run /calendar_auth", model.ErrAuth)
}

// Unlink runs clear (which drops the event links of the calling chat), then
// forgets the credential. It returns what clear reported.
func (m *Manager) Unlink(ctx context.Context, clear func(ctx context.Context) (int, error)) (int, error) {
	m.mu.Lock()
	linked := m.tok != nil
	m.mu.Unlock()
	if !linked {
		return 0, ErrNotLinked
	}

	cleared, err := clear(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.tok = nil
	m.mu.Unlock()
	if err := os.Remove(m.tokenFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not delete token file %s: %v", m.tokenFile, err)
		if werr := os.WriteFile(m.tokenFile, []byte("{}"), 0600); werr != nil {
			return cleared, fmt.Errorf("could not remove token file %s: %w", m.tokenFile, err)
		}
	}
	return cleared, nil
}

// tokenFromFile reads an oauth2.Token from a JSON file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	if err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds no token", file)
	}
	return tok, nil
}

// saveToken saves an oauth2.Token to a JSON file readable by the owner only.
func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

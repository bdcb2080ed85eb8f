package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrisonrobin/taskbot/pkg/model"
	"golang.org/x/oauth2"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
	fail  string // OAuth error code to return, if set
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if ts.fail != "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":%q}`, ts.fail)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad token request: %v", err)
		}
		if r.Form.Get("grant_type") == "authorization_code" && r.Form.Get("code") != "4/good" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		// slow enough for concurrent refreshers to pile up
		time.Sleep(20 * time.Millisecond)
		fmt.Fprintf(w, `{"access_token":"access-%d","token_type":"Bearer","refresh_token":"refresh","expires_in":3600}`, n)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(ts *tokenServer) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:6789/oauth2callback",
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func TestAuthorizationIsScopedToChat(t *testing.T) {
	ctx := context.Background()
	ts := newTokenServer(t)
	tokenFile := filepath.Join(t.TempDir(), "token.json")
	m := NewManager(testConfig(ts), tokenFile)

	if got := m.Status("a"); got != Unlinked {
		t.Fatalf("Expected unlinked, got %s", got)
	}
	start, err := m.Begin("a", 1)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !strings.Contains(start.URL, "state="+start.Handle) || !strings.Contains(start.URL, "access_type=offline") {
		t.Errorf("Expected offline auth URL carrying the handle, got %s", start.URL)
	}
	if got := m.Status("a"); got != AwaitingCode {
		t.Errorf("Expected awaiting_code for chat a, got %s", got)
	}

	if err := m.Complete(ctx, "b", "4/good"); !errors.Is(err, ErrNoFlow) {
		t.Fatalf("Expected chat b to have no flow, got %v", err)
	}
	if err := m.Complete(ctx, "a", "4/bad"); !errors.Is(err, model.ErrAuth) {
		t.Fatalf("Expected rejected code to be ErrAuth, got %v", err)
	}
	if got := m.Status("a"); got != AwaitingCode {
		t.Errorf("Expected flow to survive a rejected code, got %s", got)
	}
	if err := m.Complete(ctx, "a", " 4/good\n"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got := m.Status("a"); got != Linked {
		t.Errorf("Expected linked, got %s", got)
	}
	if _, err := os.Stat(tokenFile); err != nil {
		t.Errorf("Expected token file to be written: %v", err)
	}

	reloaded := NewManager(testConfig(ts), tokenFile)
	tok, err := reloaded.Token(ctx)
	if err != nil || tok.AccessToken == "" {
		t.Errorf("Expected stored token after restart, got %v (%v)", tok, err)
	}
}

func TestBeginWithoutClientSecrets(t *testing.T) {
	m := NewManager(nil, filepath.Join(t.TempDir(), "token.json"))
	if _, err := m.Begin("a", 1); !errors.Is(err, ErrNoClient) {
		t.Errorf("Expected ErrNoClient, got %v", err)
	}
	if _, err := m.Token(context.Background()); !errors.Is(err, ErrNotLinked) {
		t.Errorf("Expected ErrNotLinked, got %v", err)
	}
}

func TestFlowExpires(t *testing.T) {
	ts := newTokenServer(t)
	m := NewManager(testConfig(ts), filepath.Join(t.TempDir(), "token.json"))
	now := time.Now()
	m.now = func() time.Time { return now }

	if _, err := m.Begin("a", 1); err != nil {
		t.Fatal(err)
	}
	now = now.Add(FlowTimeout + time.Second)
	if err := m.Complete(context.Background(), "a", "4/good"); !errors.Is(err, ErrNoFlow) {
		t.Errorf("Expected expired flow, got %v", err)
	}
}

func TestCompleteByState(t *testing.T) {
	ts := newTokenServer(t)
	m := NewManager(testConfig(ts), filepath.Join(t.TempDir(), "token.json"))
	start, err := m.Begin("a", 1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.CompleteByState(context.Background(), "other", "4/good"); !errors.Is(err, ErrNoFlow) {
		t.Errorf("Expected unknown state to be rejected, got %v", err)
	}
	chatID, err := m.CompleteByState(context.Background(), start.Handle, "4/good")
	if err != nil || chatID != "a" {
		t.Fatalf("Expected chat a to be linked, got %q (%v)", chatID, err)
	}
}

func TestConcurrentRefreshHitsTokenEndpointOnce(t *testing.T) {
	ts := newTokenServer(t)
	tokenFile := filepath.Join(t.TempDir(), "token.json")
	expired := &oauth2.Token{AccessToken: "old", RefreshToken: "refresh", Expiry: time.Now().Add(-time.Hour)}
	if err := saveToken(tokenFile, expired); err != nil {
		t.Fatal(err)
	}
	m := NewManager(testConfig(ts), tokenFile)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			if err != nil {
				t.Errorf("Token failed: %v", err)
				return
			}
			if tok.AccessToken != "access-1" {
				t.Errorf("Expected the single refreshed token, got %s", tok.AccessToken)
			}
		}()
	}
	wg.Wait()

	if n := ts.calls.Load(); n != 1 {
		t.Errorf("Expected 1 refresh round trip, got %d", n)
	}
	saved, err := tokenFromFile(tokenFile)
	if err != nil || saved.AccessToken != "access-1" {
		t.Errorf("Expected refreshed token to be persisted, got %v (%v)", saved, err)
	}
}

func TestRevokedRefreshTokenUnlinks(t *testing.T) {
	ts := newTokenServer(t)
	ts.fail = "invalid_grant"
	tokenFile := filepath.Join(t.TempDir(), "token.json")
	if err := saveToken(tokenFile, &oauth2.Token{AccessToken: "old", RefreshToken: "refresh", Expiry: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	m := NewManager(testConfig(ts), tokenFile)

	if _, err := m.Token(context.Background()); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("Expected ErrNotLinked, got %v", err)
	}
	if got := m.Status("a"); got != Unlinked {
		t.Errorf("Expected unlinked, got %s", got)
	}
	if _, err := os.Stat(tokenFile); !os.IsNotExist(err) {
		t.Errorf("Expected token file to be removed, got %v", err)
	}
}

func TestTransientRefreshFailureKeepsToken(t *testing.T) {
	ts := newTokenServer(t)
	ts.fail = "temporarily_unavailable"
	tokenFile := filepath.Join(t.TempDir(), "token.json")
	if err := saveToken(tokenFile, &oauth2.Token{AccessToken: "old", RefreshToken: "refresh", Expiry: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	m := NewManager(testConfig(ts), tokenFile)

	_, err := m.Token(context.Background())
	if !errors.Is(err, model.ErrAuth) || errors.Is(err, ErrNotLinked) {
		t.Fatalf("Expected a transient ErrAuth, got %v", err)
	}
	if got := m.Status("a"); got != Linked {
		t.Errorf("Expected credential to be kept, got %s", got)
	}
}

func TestUnlink(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token.json")
	if err := saveToken(tokenFile, &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	m := NewManager(nil, tokenFile)

	n, err := m.Unlink(context.Background(), func(ctx context.Context) (int, error) { return 3, nil })
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 cleared links, got %d (%v)", n, err)
	}
	if _, err := os.Stat(tokenFile); !os.IsNotExist(err) {
		t.Errorf("Expected token file to be removed, got %v", err)
	}
	if _, err := m.Unlink(context.Background(), nil); !errors.Is(err, ErrNotLinked) {
		t.Errorf("Expected second unlink to report ErrNotLinked, got %v", err)
	}
}

func TestLoadConfigRewritesOOBRedirect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	secrets := `{"installed":{"client_id":"id","client_secret":"s","redirect_uris":["urn:ietf:wg:oauth:2.0:oob"],
		"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`
	if err := os.WriteFile(path, []byte(secrets), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path, "")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.RedirectURL != "http://localhost:6789/oauth2callback" {
		t.Errorf("Expected localhost redirect, got %s", cfg.RedirectURL)
	}

	cfg, err = LoadConfig(path, "https://bot.example.com/oauth2callback")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RedirectURL != "https://bot.example.com/oauth2callback" {
		t.Errorf("Expected override redirect, got %s", cfg.RedirectURL)
	}
}

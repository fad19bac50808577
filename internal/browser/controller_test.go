package browser

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bmw4134/portalflow/internal/config"
	"github.com/Bmw4134/portalflow/internal/security"
	"github.com/Bmw4134/portalflow/internal/store"
	"github.com/Bmw4134/portalflow/internal/tasks"
)

// stubPage is an in-memory Page for exercising the controller without a
// browser process.
type stubPage struct {
	mu           sync.Mutex
	visible      map[string]bool
	clickable    map[string]bool
	evalResults  map[string]any
	url          string
	filled       map[string]string
	navigated    []string
	enterPressed []string
	cookies      []store.Cookie
	setCookies   [][]store.Cookie
	closed       bool
}

func newStubPage() *stubPage {
	return &stubPage{
		visible:     make(map[string]bool),
		clickable:   make(map[string]bool),
		evalResults: make(map[string]any),
		filled:      make(map[string]string),
	}
}

func (p *stubPage) setVisible(selector string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible[selector] = v
}

func (p *stubPage) setURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

func (p *stubPage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	p.url = url
	return nil
}

func (p *stubPage) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible[selector] {
		return nil
	}
	return assert.AnError
}

func (p *stubPage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled[selector] = value
	return nil
}

func (p *stubPage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickable[selector] {
		return nil
	}
	return assert.AnError
}

func (p *stubPage) PressEnter(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enterPressed = append(p.enterPressed, selector)
	return nil
}

func (p *stubPage) URL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *stubPage) Cookies(_ context.Context) ([]store.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *stubPage) SetCookies(_ context.Context, cookies []store.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setCookies = append(p.setCookies, cookies)
	return nil
}

func (p *stubPage) Evaluate(_ context.Context, script string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, ok := p.evalResults[script]
	if !ok || out == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *stubPage) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

func (p *stubPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type stubFactory struct {
	mu    sync.Mutex
	page  *stubPage
	calls int
}

func (f *stubFactory) NewPage(context.Context) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.page, nil
}

func (f *stubFactory) pageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	controller *Controller
	page       *stubPage
	factory    *stubFactory
	creds      *store.CredentialStore
	sessions   *store.SessionStore
	tracker    *tasks.Tracker
	selectors  SelectorConfig
}

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		NavigateTimeout:  time.Second,
		ProbeTimeout:     time.Millisecond,
		FieldWaitTimeout: time.Millisecond,
		SettleDelay:      time.Millisecond,
		TwoFactorTimeout: 200 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		SessionTTL:       24 * time.Hour,
		ActionsPerSecond: 1000,
		ActionBurst:      1000,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	vault, err := security.NewVault("test")
	require.NoError(t, err)
	creds, err := store.NewCredentialStore(filepath.Join(dir, "credentials.json"), vault, nil)
	require.NoError(t, err)
	sessions, err := store.NewSessionStore(filepath.Join(dir, "sessions.json"), nil)
	require.NoError(t, err)

	page := newStubPage()
	factory := &stubFactory{page: page}
	tracker := tasks.NewTracker(nil)
	selectors := DefaultSelectors()

	controller := NewController(testBrowserConfig(), factory, creds, sessions, tracker, selectors, nil, nil)
	return &fixture{
		controller: controller,
		page:       page,
		factory:    factory,
		creds:      creds,
		sessions:   sessions,
		tracker:    tracker,
		selectors:  selectors,
	}
}

func (f *fixture) registerCredential(t *testing.T) {
	t.Helper()
	require.NoError(t, f.creds.Register(store.PlatformCredential{
		PlatformName: "mailchimp",
		LoginURL:     "https://login.mailchimp.com/login",
		Email:        "ops@example.com",
		Secret:       "hunter2",
	}))
}

// prepareLoginPage makes the login form fields visible and the landing
// page verifiable after submit.
func (f *fixture) prepareLoginPage() {
	f.page.setVisible(f.selectors.EmailField.Primary, true)
	f.page.setVisible(f.selectors.PasswordField.Primary, true)
	f.page.clickable[`button[type="submit"]`] = true
	f.page.setVisible(`.dashboard`, true)
	f.page.evalResults[`navigator.userAgent`] = "Mozilla/5.0 (test)"
	f.page.evalResults[`JSON.stringify(Object.assign({}, window.localStorage))`] = `{"k":"v"}`
	f.page.evalResults[`JSON.stringify(Object.assign({}, window.sessionStorage))`] = `{}`
	f.page.cookies = []store.Cookie{{Name: "sid", Value: "abc", Domain: ".mailchimp.com"}}
}

func TestLoginWithoutCredentialSkipsBrowser(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.Login(context.Background(), "unregistered")
	assert.ErrorIs(t, err, store.ErrCredentialsNotFound)
	assert.Equal(t, 0, f.factory.pageCalls(), "no page must be acquired without credentials")
	assert.Empty(t, f.page.navigated)
}

func TestLoginHappyPathStoresSession(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()

	result, err := f.controller.Login(context.Background(), "mailchimp")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.SessionStored)
	assert.False(t, result.RequiresManualInput)

	assert.Equal(t, []string{"https://login.mailchimp.com/login"}, f.page.navigated)
	assert.Equal(t, "ops@example.com", f.page.filled[f.selectors.EmailField.Primary])
	assert.Equal(t, "hunter2", f.page.filled[f.selectors.PasswordField.Primary])
	assert.True(t, f.page.closed, "page must be released")

	session := f.sessions.Load("mailchimp", time.Now())
	require.NotNil(t, session)
	assert.Equal(t, "sid", session.Cookies[0].Name)
	assert.Equal(t, `{"k":"v"}`, session.Storage.LocalStorage)
	assert.True(t, session.ExpiresAt.After(time.Now().Add(23*time.Hour)))

	task, ok := f.tracker.Get(result.TaskID)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
}

func TestLoginReportsSessionStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()

	// A store whose document cannot be written: the login still succeeds
	// but the result must stop claiming a session that is not on disk.
	broken, err := store.NewSessionStore(filepath.Join(t.TempDir(), "missing", "sessions.json"), nil)
	require.NoError(t, err)
	f.controller.sessions = broken

	result, err := f.controller.Login(context.Background(), "mailchimp")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.SessionStored)
	assert.Contains(t, result.Message, "could not be stored")

	task, ok := f.tracker.Get(result.TaskID)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.Equal(t, false, task.Results["session_stored"])
}

func TestLoginFieldNotFound(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	// No fields visible at all.

	_, err := f.controller.Login(context.Background(), "mailchimp")
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestLoginFallbackSelectorUsed(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()
	// Primary email selector missing; a fallback matches instead.
	f.page.setVisible(f.selectors.EmailField.Primary, false)
	f.page.setVisible(`input[placeholder*="email" i]`, true)

	result, err := f.controller.Login(context.Background(), "mailchimp")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ops@example.com", f.page.filled[`input[placeholder*="email" i]`])
}

func TestLoginKeyboardSubmitFallback(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()
	f.page.clickable = map[string]bool{} // no submit control anywhere

	result, err := f.controller.Login(context.Background(), "mailchimp")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, f.page.enterPressed, 1)
	assert.Equal(t, f.selectors.PasswordField.Primary, f.page.enterPressed[0])
}

func TestLoginNotVerifiedFailsTask(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()
	f.page.setVisible(`.dashboard`, false)
	// URL still on the login path, so the URL fallback fails too.

	result, err := f.controller.Login(context.Background(), "mailchimp")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "check credentials")

	task, ok := f.tracker.Get(result.TaskID)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusFailed, task.Status)
}

func TestLoginTwoFactorManualCompletion(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()
	f.page.setVisible(`.two-factor`, true)
	f.page.setVisible(`.dashboard`, false)

	// The "operator" finishes the challenge after a few poll ticks,
	// once the controller has paused the task for manual input.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			for _, task := range f.tracker.ListAll() {
				if task.Status == tasks.StatusPaused {
					time.Sleep(20 * time.Millisecond)
					f.page.setVisible(`.two-factor`, false)
					f.page.setVisible(`.dashboard`, true)
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result, err := f.controller.Login(context.Background(), "mailchimp")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.RequiresManualInput)
	assert.True(t, result.SessionStored)

	task, ok := f.tracker.Get(result.TaskID)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	assert.True(t, task.RequiresManual2FA)
}

func TestLoginTwoFactorTimeoutIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()
	f.page.setVisible(`.two-factor`, true)
	f.page.setVisible(`.dashboard`, false)

	result, err := f.controller.Login(context.Background(), "mailchimp")
	require.NoError(t, err, "2FA timeout must surface as a failed result, not an error")
	assert.False(t, result.Success)
	assert.True(t, result.RequiresManualInput)
	assert.Contains(t, result.Message, "two-factor timeout")

	task, ok := f.tracker.Get(result.TaskID)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusFailed, task.Status)
}

func TestAwaitManualCompletionBoundary(t *testing.T) {
	f := newFixture(t)
	f.page.setVisible(`.two-factor`, true)

	// Success just inside the window.
	go func() {
		time.Sleep(30 * time.Millisecond)
		f.page.setVisible(`.two-factor`, false)
		f.page.setVisible(`.dashboard`, true)
	}()
	ok, err := f.controller.AwaitManualCompletion(context.Background(), f.page, "https://x/login", 150*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	// Challenge never clears: failure at the timeout.
	f.page.setVisible(`.two-factor`, true)
	f.page.setVisible(`.dashboard`, false)
	start := time.Now()
	ok, err = f.controller.AwaitManualCompletion(context.Background(), f.page, "https://x/login", 60*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestAwaitManualCompletionHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	f.page.setVisible(`.two-factor`, true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.controller.AwaitManualCompletion(ctx, f.page, "https://x/login", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyLoginSuccessURLFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.page.setURL("https://app.mailchimp.com/dashboard")
	assert.True(t, f.controller.VerifyLoginSuccess(ctx, f.page, "https://login.mailchimp.com/login"))

	f.page.setURL("https://login.mailchimp.com/login?err=1")
	assert.False(t, f.controller.VerifyLoginSuccess(ctx, f.page, "https://login.mailchimp.com/login"))

	f.page.setURL("https://app.mailchimp.com/signin")
	assert.False(t, f.controller.VerifyLoginSuccess(ctx, f.page, "https://login.mailchimp.com/login"))
}

func TestRestoreSessionRequiresValidityAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No session at all.
	assert.False(t, f.controller.RestoreSession(ctx, f.page, "mailchimp"))

	// Expired session flagged valid: still unusable.
	require.NoError(t, f.sessions.Save(&store.PlatformSession{
		PlatformName: "mailchimp",
		ExpiresAt:    time.Now().Add(-time.Minute),
		IsValid:      true,
	}))
	assert.False(t, f.controller.RestoreSession(ctx, f.page, "mailchimp"))
	assert.Empty(t, f.page.setCookies)

	// Usable session restores cookies and storage.
	require.NoError(t, f.sessions.Save(&store.PlatformSession{
		PlatformName: "mailchimp",
		Cookies:      []store.Cookie{{Name: "sid", Value: "abc"}},
		Storage:      store.StorageSnapshot{LocalStorage: `{"k":"v"}`, SessionStorage: `{}`},
		ExpiresAt:    time.Now().Add(time.Hour),
		IsValid:      true,
	}))
	assert.True(t, f.controller.RestoreSession(ctx, f.page, "mailchimp"))
	require.Len(t, f.page.setCookies, 1)
	assert.Equal(t, "sid", f.page.setCookies[0][0].Name)
}

func TestAutomateWithSessionSkipsLoginWhenSessionUsable(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	require.NoError(t, f.sessions.Save(&store.PlatformSession{
		PlatformName: "mailchimp",
		Cookies:      []store.Cookie{{Name: "sid", Value: "abc"}},
		ExpiresAt:    time.Now().Add(time.Hour),
		IsValid:      true,
	}))
	f.page.evalResults[`document.title`] = "Campaigns"
	// The portal honors the replayed session on the verification visit.
	f.page.setVisible(`.dashboard`, true)

	result, err := f.controller.AutomateWithSession(context.Background(), "mailchimp", []PageAction{
		{Name: "read title", Script: `document.title`},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.SessionRestored)
	assert.Equal(t, 1, result.ActionsCompleted)
	assert.Equal(t, "Campaigns", result.Results[0].Output)
	assert.Empty(t, f.page.filled, "the login form must never run when a usable session exists")
	assert.Equal(t, 1, f.factory.pageCalls(), "no second page for a login fallback")
	assert.True(t, f.page.closed)
}

func TestAutomateWithSessionInvalidatesRejectedSession(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()
	// The portal rejects the replayed session and the fallback login too:
	// no logged-in hint ever appears.
	f.page.setVisible(`.dashboard`, false)

	require.NoError(t, f.sessions.Save(&store.PlatformSession{
		PlatformName: "mailchimp",
		Cookies:      []store.Cookie{{Name: "sid", Value: "stale"}},
		ExpiresAt:    time.Now().Add(time.Hour),
		IsValid:      true,
	}))
	require.NotNil(t, f.sessions.Load("mailchimp", time.Now()))

	_, err := f.controller.AutomateWithSession(context.Background(), "mailchimp", []PageAction{
		{Name: "open campaigns", URL: "https://app.mailchimp.com/campaigns"},
	})
	require.ErrorContains(t, err, "login failed")

	assert.Nil(t, f.sessions.Load("mailchimp", time.Now()),
		"a session the portal rejects must be invalidated")
}

func TestAutomateWithSessionFallsBackToLogin(t *testing.T) {
	f := newFixture(t)
	f.registerCredential(t)
	f.prepareLoginPage()

	result, err := f.controller.AutomateWithSession(context.Background(), "mailchimp", []PageAction{
		{Name: "open campaigns", URL: "https://app.mailchimp.com/campaigns"},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.SessionRestored)
	assert.Contains(t, f.page.navigated, "https://login.mailchimp.com/login")
	assert.Contains(t, f.page.navigated, "https://app.mailchimp.com/campaigns")
}

func TestDetectTwoFactorHeuristics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.controller.DetectTwoFactor(ctx, f.page))

	f.page.setVisible(`input[placeholder*="verification" i]`, true)
	assert.True(t, f.controller.DetectTwoFactor(ctx, f.page))
}

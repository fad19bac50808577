package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Bmw4134/portalflow/internal/config"
	"github.com/Bmw4134/portalflow/internal/infrastructure"
	"github.com/Bmw4134/portalflow/internal/store"
	"github.com/Bmw4134/portalflow/internal/tasks"
)

// LoginResult reports the outcome of one login attempt. A two-factor
// timeout or a credential rejection lands here as Success=false with a
// human-readable message; only infrastructure problems surface as errors.
type LoginResult struct {
	Success             bool   `json:"success"`
	SessionStored       bool   `json:"session_stored"`
	RequiresManualInput bool   `json:"requires_manual_input"`
	TaskID              string `json:"task_id"`
	Message             string `json:"message"`
}

// PageAction is one scripted interaction executed on an authenticated page.
type PageAction struct {
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`    // optional navigation before the script
	Script string `json:"script,omitempty"` // optional JS whose result is captured
}

// PageActionResult is the recorded outcome of one PageAction.
type PageActionResult struct {
	Action    string    `json:"action"`
	Completed bool      `json:"completed"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AutomationResult aggregates an automateWithSession run.
type AutomationResult struct {
	Success          bool               `json:"success"`
	Platform         string             `json:"platform"`
	SessionRestored  bool               `json:"session_restored"`
	ActionsCompleted int                `json:"actions_completed"`
	Results          []PageActionResult `json:"results"`
}

// Controller drives portal logins and authenticated automation runs. One
// controller owns one browser; concurrent logins to the same platform are
// collapsed into a single attempt.
type Controller struct {
	cfg         config.BrowserConfig
	logger      *slog.Logger
	credentials *store.CredentialStore
	sessions    *store.SessionStore
	tracker     *tasks.Tracker
	metrics     *infrastructure.BusinessMetrics
	pages       PageFactory
	selectors   SelectorConfig
	limiter     *rate.Limiter
	loginGroup  singleflight.Group
	now         func() time.Time
}

// NewController wires a controller against its stores and page factory.
// metrics may be nil (e.g. in the CLI binary).
func NewController(
	cfg config.BrowserConfig,
	pages PageFactory,
	credentials *store.CredentialStore,
	sessions *store.SessionStore,
	tracker *tasks.Tracker,
	selectors SelectorConfig,
	metrics *infrastructure.BusinessMetrics,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "browser.controller")),
		credentials: credentials,
		sessions:    sessions,
		tracker:     tracker,
		metrics:     metrics,
		pages:       pages,
		selectors:   selectors,
		limiter:     rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), cfg.ActionBurst),
		now:         time.Now,
	}
}

// Login authenticates against the platform's login form, pausing for
// manual two-factor completion when one is detected. Credentials are
// checked before any page is acquired. Concurrent calls for the same
// platform share one attempt.
func (c *Controller) Login(ctx context.Context, platform string) (*LoginResult, error) {
	cred, err := c.credentials.Get(platform)
	if err != nil {
		// No browser navigation happens for unregistered platforms.
		return nil, err
	}

	v, err, _ := c.loginGroup.Do(platform, func() (any, error) {
		return c.loginLocked(ctx, platform, cred)
	})
	if err != nil {
		return nil, err
	}
	return v.(*LoginResult), nil
}

func (c *Controller) loginLocked(ctx context.Context, platform string, cred store.PlatformCredential) (*LoginResult, error) {
	page, err := c.pages.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	taskID := c.tracker.Create(platform, "login", cred.LoginURL)
	c.tracker.Start(taskID)

	result, err := c.loginOnPage(ctx, page, cred, taskID)
	if err != nil {
		c.tracker.Fail(taskID, err.Error())
		c.countLogin("error")
		return nil, err
	}
	if result.Success {
		c.countLogin("success")
	} else {
		c.countLogin("failed")
	}
	result.TaskID = taskID
	return result, nil
}

func (c *Controller) loginOnPage(ctx context.Context, page Page, cred store.PlatformCredential, taskID string) (*LoginResult, error) {
	logger := c.logger.With(slog.String("platform", cred.PlatformName), slog.String("task_id", taskID))
	logger.InfoContext(ctx, "login_started", slog.String("login_url", cred.LoginURL))

	if err := page.Navigate(ctx, cred.LoginURL); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	if err := c.fillField(ctx, page, c.selectors.EmailField, cred.Email); err != nil {
		return nil, fmt.Errorf("%w: email field", ErrFieldNotFound)
	}
	passwordSel, err := c.fillFieldReturningSelector(ctx, page, c.selectors.PasswordField, cred.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: password field", ErrFieldNotFound)
	}

	if err := c.submit(ctx, page, passwordSel); err != nil {
		return nil, err
	}

	// Give the portal a moment to render either the 2FA challenge or the
	// landing page before probing.
	if err := sleepCtx(ctx, c.cfg.SettleDelay); err != nil {
		return nil, err
	}

	if c.DetectTwoFactor(ctx, page) {
		logger.InfoContext(ctx, "two_factor_detected",
			slog.Duration("manual_window", c.cfg.TwoFactorTimeout))
		if c.metrics != nil {
			c.metrics.TwoFactorWaits.Inc()
		}
		c.tracker.PauseForInput(taskID, "waiting for manual two-factor completion in the browser window")

		completed, waitErr := c.AwaitManualCompletion(ctx, page, cred.LoginURL, c.cfg.TwoFactorTimeout)
		if waitErr != nil {
			return nil, waitErr
		}
		if !completed {
			logger.WarnContext(ctx, "two_factor_timeout")
			c.tracker.Fail(taskID, ErrTwoFactorTimeout.Error())
			return &LoginResult{
				Success:             false,
				RequiresManualInput: true,
				Message:             "two-factor timeout - please try again",
			}, nil
		}

		logger.InfoContext(ctx, "two_factor_completed")
		stored := c.persistSession(ctx, page, cred.PlatformName, logger)
		message := "two-factor completed and session stored"
		if !stored {
			message = "two-factor completed but the session could not be stored"
		}
		c.tracker.Complete(taskID, message, map[string]any{"session_stored": stored})
		return &LoginResult{
			Success:             true,
			SessionStored:       stored,
			RequiresManualInput: true,
			Message:             message,
		}, nil
	}

	if !c.VerifyLoginSuccess(ctx, page, cred.LoginURL) {
		logger.WarnContext(ctx, "login_not_verified")
		c.tracker.Fail(taskID, "login failed - please check credentials")
		return &LoginResult{Success: false, Message: "login failed - please check credentials"}, nil
	}

	logger.InfoContext(ctx, "login_verified")
	stored := c.persistSession(ctx, page, cred.PlatformName, logger)
	message := "login successful and session stored"
	if !stored {
		message = "login successful but the session could not be stored"
	}
	c.tracker.Complete(taskID, message, map[string]any{"session_stored": stored})
	return &LoginResult{
		Success:       true,
		SessionStored: stored,
		Message:       message,
	}, nil
}

// persistSession stores the page's session and reports whether it stuck.
// A store failure never fails the login; the result just stops claiming
// a session that isn't on disk.
func (c *Controller) persistSession(ctx context.Context, page Page, platform string, logger *slog.Logger) bool {
	if err := c.StoreSession(ctx, page, platform); err != nil {
		logger.WarnContext(ctx, "session_store_failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *Controller) fillField(ctx context.Context, page Page, set SelectorSet, value string) error {
	_, err := c.fillFieldReturningSelector(ctx, page, set, value)
	return err
}

// fillFieldReturningSelector probes the primary selector with the full
// field wait, then each fallback with the short probe budget, and fills
// whichever matched first.
func (c *Controller) fillFieldReturningSelector(ctx context.Context, page Page, set SelectorSet, value string) (string, error) {
	if set.Primary != "" {
		if err := page.WaitVisible(ctx, set.Primary, c.cfg.FieldWaitTimeout); err == nil {
			return set.Primary, page.Fill(ctx, set.Primary, value)
		}
	}
	if sel, ok := probeFirst(ctx, page, set.Fallbacks, c.cfg.ProbeTimeout); ok {
		return sel, page.Fill(ctx, sel, value)
	}
	return "", ErrFieldNotFound
}

// submit clicks the first matching submit control, falling back to an
// Enter keypress on the password field.
func (c *Controller) submit(ctx context.Context, page Page, passwordSel string) error {
	for _, selector := range c.selectors.SubmitControls {
		if err := page.Click(ctx, selector); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if passwordSel != "" {
		if err := page.PressEnter(ctx, passwordSel); err == nil {
			return nil
		}
	}
	return ErrSubmitFailed
}

// DetectTwoFactor probes the configured two-factor hint selectors with
// short per-probe timeouts. A false negative just means the login is
// treated as complete and verified normally.
func (c *Controller) DetectTwoFactor(ctx context.Context, page Page) bool {
	_, found := probeFirst(ctx, page, c.selectors.TwoFactorHints, c.cfg.ProbeTimeout)
	return found
}

// VerifyLoginSuccess probes the logged-in hint selectors, falling back to
// checking that the URL has left the login path.
func (c *Controller) VerifyLoginSuccess(ctx context.Context, page Page, loginURL string) bool {
	if _, found := probeFirst(ctx, page, c.selectors.LoggedInHints, c.cfg.ProbeTimeout); found {
		return true
	}

	current, err := page.URL(ctx)
	if err != nil || current == "" {
		return false
	}
	lower := strings.ToLower(current)
	return !strings.Contains(lower, "login") && !strings.Contains(lower, "signin") && current != loginURL
}

// AwaitManualCompletion polls until the two-factor challenge is gone AND
// the logged-in state verifies on the same tick, or the window closes.
// This is the one deliberate human-in-the-loop suspension point: a human
// finishes the challenge in the visible browser window while we watch.
// Returns (false, nil) on timeout; an error only for context cancellation.
func (c *Controller) AwaitManualCompletion(ctx context.Context, page Page, loginURL string, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
			if !c.DetectTwoFactor(ctx, page) && c.VerifyLoginSuccess(ctx, page, loginURL) {
				return true, nil
			}
		}
	}
}

// StoreSession extracts cookies, the client-side storage snapshot and the
// user agent from the page and persists a session valid for the
// configured TTL.
func (c *Controller) StoreSession(ctx context.Context, page Page, platform string) error {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}

	var userAgent string
	if err := page.Evaluate(ctx, `navigator.userAgent`, &userAgent); err != nil {
		return fmt.Errorf("failed to read user agent: %w", err)
	}

	var localStorage, sessionStorage string
	if err := page.Evaluate(ctx, `JSON.stringify(Object.assign({}, window.localStorage))`, &localStorage); err != nil {
		return fmt.Errorf("failed to snapshot localStorage: %w", err)
	}
	if err := page.Evaluate(ctx, `JSON.stringify(Object.assign({}, window.sessionStorage))`, &sessionStorage); err != nil {
		return fmt.Errorf("failed to snapshot sessionStorage: %w", err)
	}

	session := &store.PlatformSession{
		PlatformName: platform,
		Cookies:      cookies,
		UserAgent:    userAgent,
		Storage: store.StorageSnapshot{
			LocalStorage:   localStorage,
			SessionStorage: sessionStorage,
		},
		ExpiresAt: c.now().Add(c.cfg.SessionTTL),
		IsValid:   true,
	}
	return c.sessions.Save(session)
}

// RestoreSession installs a stored session into the page. Returns false
// (never an error) when no usable session exists or the replay fails,
// signaling the caller to fall back to Login.
func (c *Controller) RestoreSession(ctx context.Context, page Page, platform string) bool {
	session := c.sessions.Load(platform, c.now())
	if session == nil {
		c.logger.InfoContext(ctx, "no_usable_session", slog.String("platform", platform))
		c.countRestore("miss")
		return false
	}

	if err := page.SetCookies(ctx, session.Cookies); err != nil {
		c.logger.WarnContext(ctx, "cookie_restore_failed",
			slog.String("platform", platform), slog.String("error", err.Error()))
		c.countRestore("failed")
		return false
	}

	script := fmt.Sprintf(`(() => {
		const local = JSON.parse(%q);
		for (const [k, v] of Object.entries(local)) { window.localStorage.setItem(k, v); }
		const session = JSON.parse(%q);
		for (const [k, v] of Object.entries(session)) { window.sessionStorage.setItem(k, v); }
		return true;
	})()`, orEmptyObject(session.Storage.LocalStorage), orEmptyObject(session.Storage.SessionStorage))

	if err := page.Evaluate(ctx, script, nil); err != nil {
		c.logger.WarnContext(ctx, "storage_restore_failed",
			slog.String("platform", platform), slog.String("error", err.Error()))
		c.countRestore("failed")
		return false
	}

	c.logger.InfoContext(ctx, "session_restored", slog.String("platform", platform))
	c.countRestore("success")
	return true
}

// AutomateWithSession runs actions on an authenticated page, restoring
// the stored session first and falling back to a full login when no
// usable session exists. The page is released on every exit path.
func (c *Controller) AutomateWithSession(ctx context.Context, platform string, actions []PageAction) (*AutomationResult, error) {
	page, err := c.pages.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	restored := c.RestoreSession(ctx, page, platform)
	if restored {
		restored = c.verifyRestoredSession(ctx, page, platform)
	}
	if !restored {
		c.logger.InfoContext(ctx, "falling_back_to_login", slog.String("platform", platform))
		loginResult, err := c.Login(ctx, platform)
		if err != nil {
			return nil, err
		}
		if !loginResult.Success {
			return nil, fmt.Errorf("login failed for %s: %s", platform, loginResult.Message)
		}
		// The login ran on its own page; replay the freshly stored session
		// onto ours so the actions run authenticated.
		c.RestoreSession(ctx, page, platform)
	}

	result := &AutomationResult{
		Success:         true,
		Platform:        platform,
		SessionRestored: restored,
	}
	for _, action := range actions {
		actionResult := c.executeAction(ctx, page, action)
		result.Results = append(result.Results, actionResult)
		if actionResult.Completed {
			result.ActionsCompleted++
		} else {
			result.Success = false
		}
	}
	return result, nil
}

// verifyRestoredSession navigates to the platform's login page and checks
// that the portal still honors the replayed session. A session the portal
// rejects is invalidated so later runs go straight to login.
func (c *Controller) verifyRestoredSession(ctx context.Context, page Page, platform string) bool {
	cred, err := c.credentials.Get(platform)
	if err != nil {
		return false
	}
	if err := page.Navigate(ctx, cred.LoginURL); err != nil {
		return false
	}
	if err := sleepCtx(ctx, c.cfg.SettleDelay); err != nil {
		return false
	}
	if c.VerifyLoginSuccess(ctx, page, cred.LoginURL) {
		return true
	}

	c.logger.WarnContext(ctx, "restored_session_rejected",
		slog.String("platform", platform),
		slog.String("error", ErrSessionExpired.Error()))
	c.countRestore("expired")
	if err := c.sessions.Invalidate(platform); err != nil {
		c.logger.WarnContext(ctx, "session_invalidate_failed",
			slog.String("platform", platform), slog.String("error", err.Error()))
	}
	return false
}

func (c *Controller) executeAction(ctx context.Context, page Page, action PageAction) PageActionResult {
	result := PageActionResult{Action: action.Name, Timestamp: c.now()}

	if err := c.limiter.Wait(ctx); err != nil {
		result.Error = err.Error()
		return result
	}
	if action.URL != "" {
		if err := page.Navigate(ctx, action.URL); err != nil {
			result.Error = err.Error()
			return result
		}
	}
	if action.Script != "" {
		var out any
		if err := page.Evaluate(ctx, action.Script, &out); err != nil {
			result.Error = err.Error()
			return result
		}
		result.Output = out
	}
	result.Completed = true
	return result
}

func (c *Controller) countLogin(result string) {
	if c.metrics != nil {
		c.metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}

func (c *Controller) countRestore(result string) {
	if c.metrics != nil {
		c.metrics.SessionRestores.WithLabelValues(result).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

package browser

import "errors"

var (
	// ErrFieldNotFound is returned when neither the primary selector nor
	// any fallback matched a login form field.
	ErrFieldNotFound = errors.New("login form field not found")

	// ErrSubmitFailed is returned when no submit control matched and the
	// keyboard fallback also failed.
	ErrSubmitFailed = errors.New("could not find or activate a submit control")

	// ErrTwoFactorTimeout is returned by the manual-completion wait when
	// the operator did not finish within the window.
	ErrTwoFactorTimeout = errors.New("timed out waiting for manual two-factor completion")

	// ErrBrowserUnavailable is returned when the browser process cannot be
	// launched or has crashed; the controller must be re-initialized.
	ErrBrowserUnavailable = errors.New("browser unavailable")

	// ErrSessionExpired is returned when an automation run finds its
	// restored session rejected by the portal.
	ErrSessionExpired = errors.New("platform session expired")
)

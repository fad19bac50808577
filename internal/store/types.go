package store

import (
	"time"
)

// PlatformCredential holds the login identity for one external platform.
// The secret is only ever persisted through the vault; it never appears in
// logs or on disk in cleartext.
type PlatformCredential struct {
	PlatformName string `json:"platform_name" validate:"required"`
	LoginURL     string `json:"login_url" validate:"required,url"`
	Email        string `json:"email" validate:"required,email"`
	Secret       string `json:"-" validate:"required"`
}

// Cookie is the persisted form of a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // seconds since epoch, 0 for session cookies
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

// StorageSnapshot is an opaque capture of the page's client-side storage.
type StorageSnapshot struct {
	LocalStorage   string `json:"local_storage"`
	SessionStorage string `json:"session_storage"`
}

// PlatformSession holds the artifacts needed to resume an authenticated
// browser state without re-submitting credentials. One session per
// platform; last write wins.
type PlatformSession struct {
	PlatformName string          `json:"platform_name"`
	Cookies      []Cookie        `json:"cookies"`
	UserAgent    string          `json:"user_agent"`
	Storage      StorageSnapshot `json:"storage"`
	ExpiresAt    time.Time       `json:"expires_at"`
	IsValid      bool            `json:"is_valid"`
}

// Usable reports whether the session may still be presented to a portal.
// Both the validity flag and the expiry must hold; consumers must not
// trust IsValid alone.
func (s *PlatformSession) Usable(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.IsValid && now.Before(s.ExpiresAt)
}

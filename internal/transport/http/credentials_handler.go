package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/Bmw4134/portalflow/internal/errors"
	"github.com/Bmw4134/portalflow/internal/middleware"
	"github.com/Bmw4134/portalflow/internal/store"
)

// CredentialsHandler handles credential registration and lookup.
type CredentialsHandler struct {
	store    *store.CredentialStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewCredentialsHandler creates a new credentials handler.
func NewCredentialsHandler(credentials *store.CredentialStore, logger *slog.Logger) *CredentialsHandler {
	if credentials == nil {
		panic("credential store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CredentialsHandler{
		store:    credentials,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "credentials")),
	}
}

// Routes returns a chi router for credential endpoints.
func (h *CredentialsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(30*time.Second, h.logger))

	r.Post("/", h.RegisterCredential)
	r.Get("/", h.ListPlatforms)

	return r
}

// CredentialRequest is the registration payload. The password is accepted
// on the wire but never echoed back.
type CredentialRequest struct {
	PlatformName string `json:"platform_name" validate:"required,min=1,max=128"`
	LoginURL     string `json:"login_url" validate:"required,url"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=1"`
}

// Bind implements the render.Binder interface for request validation.
func (c *CredentialRequest) Bind(_ *http.Request) error {
	if c.PlatformName == "" {
		return errors.New("platform_name is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// RegisterCredential handles POST /api/credentials
func (h *CredentialsHandler) RegisterCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := &CredentialRequest{}
	if err := render.Bind(r, data); err != nil {
		h.logger.WarnContext(ctx, "credential request rejected",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if err := h.validate.Struct(data); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			render.Render(w, r, apierrors.ErrValidation(first.Field(), "failed validation: "+first.Tag()))
			return
		}
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	cred := store.PlatformCredential{
		PlatformName: data.PlatformName,
		LoginURL:     data.LoginURL,
		Email:        data.Email,
		Secret:       data.Password,
	}

	if err := h.store.Register(cred); err != nil {
		h.logger.ErrorContext(ctx, "credential registration failed",
			slog.String("platform", data.PlatformName),
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.InternalError(err))
		return
	}

	h.logger.InfoContext(ctx, "credential registered",
		slog.String("platform", data.PlatformName),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{
		"success":  true,
		"platform": data.PlatformName,
	})
}

// ListPlatforms handles GET /api/credentials and returns the platform
// names that have stored credentials. Secrets never leave the vault.
func (h *CredentialsHandler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"platforms": h.store.Platforms(),
	})
}

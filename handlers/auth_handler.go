package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/auth-gateway/auth"
	"github.com/upb/auth-gateway/internal/pipeline"
	"github.com/upb/auth-gateway/middleware"
	"github.com/upb/auth-gateway/models"
	"github.com/upb/auth-gateway/services"
	"github.com/upb/auth-gateway/services/audit"
	"github.com/upb/auth-gateway/utils"
	"go.uber.org/zap"
)

// UserService is the account logic the handlers need
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	GetUser(ctx context.Context, subject string) (*models.User, error)
}

// RegistrationRecorder appends registration events to the auth log
type RegistrationRecorder interface {
	LogRegistration(user *models.User, info audit.RequestInfo) error
}

// RegisterRequest is the body of POST /api/auth/register
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=255"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	User  models.PublicUser `json:"user"`
	Token auth.Token        `json:"token"`
}

// VerifyResponse is returned by the token verification routes
type VerifyResponse struct {
	Valid    bool           `json:"valid"`
	Identity *auth.Identity `json:"identity"`
}

// UserResponse is returned by GET /api/auth/me
type UserResponse struct {
	User models.PublicUser `json:"user"`
}

// AuthHandler serves the account routes. Authentication itself happens in
// the pipeline; these handlers only read the resulting identity.
type AuthHandler struct {
	users  UserService
	issuer auth.TokenIssuer
	audit  RegistrationRecorder
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. recorder may be nil.
func NewAuthHandler(users UserService, issuer auth.TokenIssuer, recorder RegistrationRecorder, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:  users,
		issuer: issuer,
		audit:  recorder,
		logger: logger.Named("auth_handler"),
	}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := bindBody(pipeline.BodyFromContext(r.Context()), &req); err != nil {
		return err
	}

	user, err := h.users.Register(r.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return err
	}

	if h.audit != nil {
		if err := h.audit.LogRegistration(user, middleware.RequestInfo(r)); err != nil {
			h.logger.Warn("failed to record registration", zap.Error(err))
		}
	}

	token, err := h.issue(r.Context(), user)
	if err != nil {
		return err
	}

	return utils.WriteCreated(w, AuthResponse{User: user.Public(), Token: token})
}

// Login handles POST /api/auth/login after the password strategy succeeded
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	identity, err := requireIdentity(r)
	if err != nil {
		return err
	}

	user, err := h.users.GetUser(r.Context(), identity.Subject)
	if err != nil {
		return err
	}

	token, err := h.issue(r.Context(), user)
	if err != nil {
		return err
	}

	return utils.WriteOK(w, AuthResponse{User: user.Public(), Token: token})
}

// Verify handles the token verification routes
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) error {
	identity, err := requireIdentity(r)
	if err != nil {
		return err
	}
	return utils.WriteOK(w, VerifyResponse{Valid: true, Identity: identity})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) error {
	identity, err := requireIdentity(r)
	if err != nil {
		return err
	}

	user, err := h.users.GetUser(r.Context(), identity.Subject)
	if err != nil {
		return err
	}

	return utils.WriteOK(w, UserResponse{User: user.Public()})
}

func (h *AuthHandler) issue(ctx context.Context, user *models.User) (auth.Token, error) {
	token, err := h.issuer.Issue(ctx, &auth.Identity{
		Subject:  user.ID.String(),
		Strategy: auth.JWTStrategyName,
		Email:    user.Email,
	})
	if err != nil {
		return auth.Token{}, services.WrapInternal("failed to issue token", err)
	}
	return token, nil
}

func requireIdentity(r *http.Request) (*auth.Identity, error) {
	identity := pipeline.IdentityFromContext(r.Context())
	if identity == nil {
		// route is missing its Authenticate middleware
		return nil, services.WrapInternal("route served without authentication", nil)
	}
	return identity, nil
}

// bindBody fills req from a JSON or urlencoded body and validates it.
func bindBody(body *pipeline.Body, req *RegisterRequest) error {
	if body == nil {
		return services.ErrInvalidInput.WithDetail("reason", "request body is required")
	}

	if body.Form != nil {
		req.Email = body.Form.Get("email")
		req.Password = body.Form.Get("password")
		req.Name = body.Form.Get("name")
		return utils.ValidateStruct(req)
	}

	err := utils.DecodeJSON(body.Raw, req)
	switch {
	case err == nil:
		return nil
	case utils.IsValidationError(err):
		return err
	case errors.Is(err, utils.ErrEmptyBody):
		return services.ErrInvalidInput.WithDetail("reason", "request body is required")
	default:
		return services.ErrInvalidJSON
	}
}

// Package account implements registration, email verification, sign-in and
// session endpoints. Sessions are JWTs carried in an HTTP-only cookie or the
// Authorization header; the token's org claim selects the active
// organization.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/auth"
	"github.com/crm-platform/crm/internal/auth/oidc"
	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/middleware"
	"github.com/crm-platform/crm/internal/telemetry"
	"github.com/crm-platform/crm/internal/validation"
)

const (
	verificationTTL = 24 * time.Hour
	stateCookie     = "crm-oauth-state"
	stateTTL        = 10 * time.Minute
)

// Users is the user and verification token storage used by the handlers.
type Users interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
	GetVerificationToken(ctx context.Context, token string) (*models.VerificationToken, error)
	ConsumeVerificationToken(ctx context.Context, token *models.VerificationToken) error
	DeleteVerificationToken(ctx context.Context, token string) error
}

// Organizations resolves and provisions the caller's organizations.
type Organizations interface {
	FindMembership(ctx context.Context, userID, orgID string) (*models.Membership, error)
	DefaultMembership(ctx context.Context, userID string) (*models.Membership, error)
	ListForUser(ctx context.Context, userID string) ([]models.MembershipWithOrganization, error)
	Register(ctx context.Context, acct repositories.NewAccount) (*models.Membership, error)
	Provision(ctx context.Context, userID, name, slug string) (*models.Membership, error)
}

// Verifier delivers email verification links.
type Verifier interface {
	SendVerification(ctx context.Context, to, token string) error
}

// IdentityProvider is a third-party sign-in provider.
type IdentityProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oidc.Identity, error)
}

// Handlers handles account and session endpoints
type Handlers struct {
	users    Users
	orgs     Organizations
	verifier Verifier
	google   IdentityProvider

	cookieName   string
	cookieSecure bool
	csrfCookie   string
	tokenTTL     time.Duration
	appURL       string
	now          func() time.Time
}

// NewHandlers creates a new Handlers instance. google may be nil when
// third-party sign-in is disabled.
func NewHandlers(cfg *config.Config, users Users, orgs Organizations, verifier Verifier, google IdentityProvider) *Handlers {
	ttl := cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		users:        users,
		orgs:         orgs,
		verifier:     verifier,
		google:       google,
		cookieName:   cfg.Auth.CookieName,
		cookieSecure: cfg.Auth.CookieSecure,
		csrfCookie:   cfg.Security.CSRF.CookieName,
		tokenTTL:     ttl,
		appURL:       strings.TrimRight(cfg.Email.AppURL, "/"),
		now:          time.Now,
	}
}

type registerInput struct {
	Name     *string `json:"name" validate:"omitnil,max=100"`
	Email    string  `json:"email" validate:"required,email,max=254"`
	Password string  `json:"password" validate:"required,min=8,max=128"`
}

type credentialsInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type switchInput struct {
	OrganizationID string `json:"organizationId" validate:"required,uuid"`
}

// sessionResponse is returned by every endpoint that issues a session.
type sessionResponse struct {
	Token          string       `json:"token"`
	ExpiresAt      time.Time    `json:"expiresAt"`
	OrganizationID string       `json:"organizationId,omitempty"`
	Role           models.Role  `json:"role,omitempty"`
	User           *models.User `json:"user"`
}

// @Summary      Register
// @Description  Creates a user with their own organization and default pipeline, then emails a verification link.
// @Tags         Authentication
// @Accept       json,x-www-form-urlencoded
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "success: true"
// @Failure      400  {object}  map[string]interface{}  "Email already in use"
// @Failure      422  {object}  map[string]interface{}  "Validation issues"
// @Router       /api/v1/auth/register [post]
// RegisterHandler creates an unverified account
// POST /api/v1/auth/register
func (h *Handlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var input registerInput
		if isForm(c.Request) {
			input.Email = c.PostForm("email")
			input.Password = c.PostForm("password")
			if name, ok := c.GetPostForm("name"); ok {
				input.Name = &name
			}
		} else if err := validation.DecodeJSON(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}
		if err := validation.Struct(&input); err != nil {
			apierror.Respond(c, err)
			return
		}
		email := strings.ToLower(input.Email)

		existing, err := h.users.GetByEmail(ctx, email)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if existing != nil {
			apierror.Respond(c, apierror.BadRequest("Email already in use"))
			return
		}

		hash, err := auth.HashPassword(input.Password)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		user := &models.User{Email: email, Name: nonBlank(input.Name), PasswordHash: &hash}
		token := &models.VerificationToken{
			Token:      uuid.New().String(),
			Identifier: email,
			ExpiresAt:  h.now().Add(verificationTTL),
		}

		_, err = h.orgs.Register(ctx, repositories.NewAccount{
			User:             user,
			OrganizationName: organizationName(user),
			OrganizationSlug: organizationSlug(email, h.now()),
			Token:            token,
		})
		if errors.Is(err, repositories.ErrDuplicate) {
			apierror.Respond(c, apierror.BadRequest("Email already in use"))
			return
		}
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		// The account exists at this point; a failed delivery is logged so a
		// retry of the form does not hit "Email already in use" with no link sent.
		if err := h.verifier.SendVerification(ctx, email, token.Token); err != nil {
			slog.Error("failed to send verification email", "user_id", user.ID, "error", err)
		}
		slog.Info("account registered", "user_id", user.ID)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// CSRFHandler issues a double-submit token and sets its cookie
// GET /api/v1/auth/csrf
func (h *Handlers) CSRFHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.NewCSRFToken()
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.csrfCookie, token, 0, "/", "", h.cookieSecure, true)
		c.JSON(http.StatusOK, gin.H{"csrfToken": token})
	}
}

// VerifyEmailHandler consumes a verification token and sends the browser to
// the sign-in page
// GET /api/v1/auth/verify?token=
func (h *Handlers) VerifyEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		value := strings.TrimSpace(c.Query("token"))
		if value == "" {
			apierror.Respond(c, apierror.BadRequest("Invalid token"))
			return
		}

		token, err := h.users.GetVerificationToken(ctx, value)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if token == nil {
			apierror.Respond(c, apierror.BadRequest("Invalid token"))
			return
		}
		if token.Expired(h.now()) {
			if err := h.users.DeleteVerificationToken(ctx, token.Token); err != nil {
				slog.Warn("failed to delete expired verification token", "error", err)
			}
			apierror.Respond(c, apierror.BadRequest("Token expired"))
			return
		}
		if err := h.users.ConsumeVerificationToken(ctx, token); err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Redirect(http.StatusFound, h.appURL+"/login")
	}
}

// LoginHandler signs in with email and password
// POST /api/v1/auth/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var input credentialsInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		user, err := h.users.GetByEmail(ctx, input.Email)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if user == nil || !user.IsVerified() || user.PasswordHash == nil {
			h.rejectLogin(c)
			return
		}
		ok, err := auth.CheckPassword(*user.PasswordHash, input.Password)
		if err != nil || !ok {
			h.rejectLogin(c)
			return
		}

		m, err := h.orgs.DefaultMembership(ctx, user.ID)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		telemetry.SignInsTotal.WithLabelValues("password", "success").Inc()
		h.issueSession(c, user, m)
	}
}

func (h *Handlers) rejectLogin(c *gin.Context) {
	telemetry.SignInsTotal.WithLabelValues("password", "rejected").Inc()
	apierror.Respond(c, &apierror.StatusError{Status: http.StatusUnauthorized, Message: "Invalid credentials"})
}

// LogoutHandler clears the session cookie
// POST /api/v1/auth/logout
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookieName, "", -1, "/", "", h.cookieSecure, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// MeHandler returns the signed-in user and their memberships
// GET /api/v1/auth/me
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		claims := middleware.GetClaims(c)
		if claims == nil {
			apierror.Respond(c, apierror.ErrUnauthenticated)
			return
		}

		user, err := h.users.GetByID(ctx, claims.UserID)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if user == nil {
			apierror.Respond(c, apierror.ErrUnauthenticated)
			return
		}
		memberships, err := h.orgs.ListForUser(ctx, user.ID)
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		active := claims.OrganizationID
		if active == "" && len(memberships) > 0 {
			active = memberships[0].OrganizationID
		}
		c.JSON(http.StatusOK, gin.H{
			"user":           user,
			"memberships":    memberships,
			"organizationId": active,
		})
	}
}

// SwitchOrganizationHandler re-issues the session for another organization
// the caller belongs to
// POST /api/v1/auth/switch-organization
func (h *Handlers) SwitchOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		claims := middleware.GetClaims(c)
		if claims == nil {
			apierror.Respond(c, apierror.ErrUnauthenticated)
			return
		}

		var input switchInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		m, err := h.orgs.FindMembership(ctx, claims.UserID, input.OrganizationID)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if m == nil {
			telemetry.AccessDeniedTotal.WithLabelValues("forbidden").Inc()
			apierror.Respond(c, apierror.ErrForbidden)
			return
		}
		user, err := h.users.GetByID(ctx, claims.UserID)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if user == nil {
			apierror.Respond(c, apierror.ErrUnauthenticated)
			return
		}
		h.issueSession(c, user, m)
	}
}

// GoogleLoginHandler starts the Google authorization code flow
// GET /api/v1/auth/google/login
func (h *Handlers) GoogleLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.google == nil {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}
		state, err := auth.NewCSRFToken()
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(stateCookie, state, int(stateTTL.Seconds()), "/", "", h.cookieSecure, true)
		c.Redirect(http.StatusFound, h.google.AuthURL(state))
	}
}

// GoogleCallbackHandler completes the Google flow. The user is matched by
// verified email, created when unknown, and given an organization when they
// have none.
// GET /api/v1/auth/google/callback?code=...&state=...
func (h *Handlers) GoogleCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.google == nil {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}
		ctx := c.Request.Context()

		// Failures land on the sign-in page with an error code the web client
		// can display.
		callbackError := func(code string) {
			telemetry.SignInsTotal.WithLabelValues("google", "rejected").Inc()
			c.Redirect(http.StatusFound, h.appURL+"/login?error="+url.QueryEscape(code))
		}

		expected, _ := c.Cookie(stateCookie)
		c.SetCookie(stateCookie, "", -1, "/", "", h.cookieSecure, true)
		if !auth.CSRFTokensMatch(expected, c.Query("state")) {
			callbackError("invalid_state")
			return
		}
		code := c.Query("code")
		if code == "" {
			callbackError("missing_code")
			return
		}

		identity, err := h.google.Exchange(ctx, code)
		if err != nil {
			slog.Warn("google sign-in exchange failed", "error", err)
			callbackError("token_exchange_failed")
			return
		}
		if identity.Email == "" || !identity.EmailVerified {
			callbackError("email_not_verified")
			return
		}

		user, err := h.linkUser(ctx, identity)
		if err != nil {
			slog.Error("failed to link google identity", "error", err)
			callbackError("user_creation_failed")
			return
		}

		m, err := h.orgs.DefaultMembership(ctx, user.ID)
		if err == nil && m == nil {
			m, err = h.orgs.Provision(ctx, user.ID, organizationName(user), organizationSlug(user.Email, h.now()))
		}
		if err != nil {
			slog.Error("failed to resolve organization for google sign-in", "user_id", user.ID, "error", err)
			callbackError("organization_failed")
			return
		}

		if _, err := h.startSession(c, user, m); err != nil {
			callbackError("session_failed")
			return
		}
		telemetry.SignInsTotal.WithLabelValues("google", "success").Inc()
		c.Redirect(http.StatusFound, h.appURL+"/")
	}
}

// linkUser finds the user for a verified identity, refreshing their profile,
// or creates a pre-verified one.
func (h *Handlers) linkUser(ctx context.Context, identity *oidc.Identity) (*models.User, error) {
	email := strings.ToLower(identity.Email)
	user, err := h.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		user.Name = nonBlank(&identity.Name)
		user.Image = nonBlank(&identity.Picture)
		if err := h.users.UpdateProfile(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}

	now := h.now()
	user = &models.User{
		Email:           email,
		Name:            nonBlank(&identity.Name),
		Image:           nonBlank(&identity.Picture),
		EmailVerifiedAt: &now,
	}
	err = h.users.Create(ctx, user)
	if errors.Is(err, repositories.ErrDuplicate) {
		// Lost a race with a concurrent sign-in for the same email.
		return h.users.GetByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// issueSession sets the session cookie and responds with the token.
func (h *Handlers) issueSession(c *gin.Context, user *models.User, m *models.Membership) {
	resp, err := h.startSession(c, user, m)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) startSession(c *gin.Context, user *models.User, m *models.Membership) (*sessionResponse, error) {
	resp := &sessionResponse{User: user, ExpiresAt: h.now().Add(h.tokenTTL)}
	if m != nil {
		resp.OrganizationID = m.OrganizationID
		resp.Role = m.Role
	}
	token, err := auth.GenerateJWT(user.ID, user.Email, resp.OrganizationID, h.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	resp.Token = token

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, token, int(h.tokenTTL.Seconds()), "/", "", h.cookieSecure, true)
	return resp, nil
}

func organizationName(user *models.User) string {
	return user.DisplayName() + "'s Organization"
}

// organizationSlug derives a unique slug from the email's local part and the
// current time in milliseconds.
func organizationSlug(email string, now time.Time) string {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	base := strings.TrimSuffix(b.String(), "-")
	if base == "" {
		base = "org"
	}
	return fmt.Sprintf("%s-%d", base, now.UnixMilli())
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func isForm(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"homestack-control-plane/internal/identity/service"
	"homestack-control-plane/internal/platform/apperr"
	userdomain "homestack-control-plane/internal/user/domain"
)

// AuthService is the part of *service.AuthService used by the HTTP handlers.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*userdomain.User, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

// AuthAPI serves /auth/register, /auth/login, /auth/refresh and /auth/logout.
type AuthAPI struct {
	auth AuthService
}

// NewAuthAPI returns an AuthAPI backed by auth.
func NewAuthAPI(auth AuthService) *AuthAPI {
	return &AuthAPI{auth: auth}
}

// RegisterRoutes registers the auth routes.
func (a *AuthAPI) RegisterRoutes(g *echo.Group) {
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Register creates an account.
func (a *AuthAPI) Register(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	u, err := a.auth.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, registerResponse{UserID: u.ID, Email: u.Email})
}

// Login exchanges credentials for a token pair.
func (a *AuthAPI) Login(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	res, err := a.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toTokenResponse(res))
}

// Refresh rotates a refresh token.
func (a *AuthAPI) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return apperr.Validation("refresh_token is required")
	}
	res, err := a.auth.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toTokenResponse(res))
}

// Logout revokes a refresh token.
func (a *AuthAPI) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return apperr.Validation("refresh_token is required")
	}
	if err := a.auth.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "logged_out"})
}

func toTokenResponse(res *service.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    res.TokenType,
	}
}

package dto

import (
	"time"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/service"
)

// ErrorResponse — стандартный ответ с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse — стандартный ответ с сообщением.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AuthResponse — ответ на регистрацию и вход.
type AuthResponse struct {
	User         *models.User  `json:"user"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    time.Duration `json:"expires_in"`
}

// NewAuthResponse собирает AuthResponse из результата сервиса.
func NewAuthResponse(result *service.AuthResult) AuthResponse {
	return AuthResponse{
		User:         result.User,
		AccessToken:  result.TokenPair.AccessToken,
		RefreshToken: result.TokenPair.RefreshToken,
		ExpiresIn:    result.TokenPair.ExpiresIn,
	}
}

// ListResponse — обёртка списочных ответов с пагинацией.
type ListResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

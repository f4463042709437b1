package api

import (
	"net/http"
	"time"

	"github.com/uuru/uuru/internal/api/middleware"
	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        userResponse `json:"user"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, Admin: u.IsAdmin()}
}

// handleLogin exchanges username and password for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if msg := respond.Decode(r, &req); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateRequiredStringLen("username", req.Username, maxUsernameLen); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	if containsControlChars(req.Username) {
		respond.Error(w, http.StatusBadRequest, "username contains invalid characters")
		return
	}
	if msg := validateRequiredStringLen("password", req.Password, maxPasswordLen); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}

	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if user == nil {
		respond.Error(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	ok, err := database.CheckPassword(req.Password, user.PasswordHash)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s.JWTSecret, s.Config.TokenTTL, user)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        toUserResponse(user),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, toUserResponse(middleware.UserFromContext(r.Context())))
}

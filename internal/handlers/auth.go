package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dashboard/internal/auth"
	"github.com/ukydev/fleet-dashboard/internal/db"
	"github.com/ukydev/fleet-dashboard/internal/middleware"
	"github.com/ukydev/fleet-dashboard/internal/models"
	"github.com/ukydev/fleet-dashboard/internal/session"
)

// AuthHandler handles sign-up, sign-in and the session lifecycle.
type AuthHandler struct {
	authService *auth.Service
	users       db.UserCollection
	sessions    Sessions
	revocations session.Revocations
	log         logrus.FieldLogger
}

// NewAuthHandler creates a new authentication handler. Logout revokes the
// caller's token in revocations.
func NewAuthHandler(authService *auth.Service, users db.UserCollection, sessions Sessions, revocations session.Revocations, logger logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		users:       users,
		sessions:    sessions,
		revocations: revocations,
		log:         logger,
	}
}

// Signup creates the user document and signs the new account in.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.SignupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := auth.ValidateSignup(req); err != nil {
		http.Error(w, auth.Message(err), http.StatusBadRequest)
		return
	}

	_, err := h.users.FindUserByEmail(r.Context(), req.Email)
	switch {
	case err == nil:
		http.Error(w, auth.Message(auth.ErrEmailTaken), http.StatusConflict)
		return
	case !errors.Is(err, db.ErrUserNotFound):
		h.log.WithError(err).Error("Failed to look up email")
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	passwordHash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	user, err := h.users.InsertUser(r.Context(), models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         req.Role,
	})
	if errors.Is(err, db.ErrDuplicateEmail) {
		// Lost a race with a concurrent sign-up for the same email.
		http.Error(w, auth.Message(auth.ErrEmailTaken), http.StatusConflict)
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Failed to create user")
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	h.startSession(w, user, http.StatusCreated)
}

// Login handles email/password sign-in
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.users.FindUserByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, db.ErrUserNotFound) {
			h.log.WithError(err).Error("Failed to look up user")
		}
		http.Error(w, auth.Message(auth.ErrInvalidCredentials), http.StatusUnauthorized)
		return
	}
	if !user.IsActive {
		http.Error(w, auth.Message(auth.ErrUserInactive), http.StatusUnauthorized)
		return
	}
	if !h.authService.CheckPassword(req.Password, user.PasswordHash) {
		http.Error(w, auth.Message(auth.ErrInvalidCredentials), http.StatusUnauthorized)
		return
	}

	if err := h.users.UpdateLastLogin(r.Context(), user.UID); err != nil {
		h.log.WithError(err).WithField("account_id", user.UID).Warn("Failed to update last login")
	}

	h.startSession(w, user, http.StatusOK)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, user *models.User, status int) {
	token, err := h.authService.GenerateToken(user)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	role := user.Role
	if role == "" {
		role = models.DefaultRole
	}
	if _, err := h.sessions.SignIn(session.New(user.UID, token, role)); err != nil {
		h.log.WithError(err).WithField("account_id", user.UID).Error("Failed to open fleet session")
		http.Error(w, "Failed to start session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.log, status, models.LoginResponse{Token: token, Role: role, User: user})
}

// Refresh re-issues the caller's token and caches it on the live session.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	current, err := middleware.RequestToken(r)
	if err != nil {
		http.Error(w, auth.Message(err), http.StatusUnauthorized)
		return
	}
	token, claims, err := h.authService.RefreshToken(current)
	if err != nil {
		http.Error(w, auth.Message(err), http.StatusUnauthorized)
		return
	}

	err = h.sessions.Refresh(r.Context(), claims.UserID, token)
	if err != nil {
		// No live session on this instance, e.g. after a restart.
		_, err = h.sessions.Ensure(session.New(claims.UserID, token, claims.Role))
	}
	if err != nil {
		h.log.WithError(err).WithField("account_id", claims.UserID).Error("Failed to refresh fleet session")
		http.Error(w, "Failed to refresh session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.log, http.StatusOK, models.LoginResponse{Token: token, Role: claims.Role})
}

// Logout ends the account's session: the caller's token stops working,
// subscriptions stop, the state resets and cached artifacts are cleared.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	log := h.log.WithField("account_id", claims.UserID)
	if claims.ID != "" {
		if err := h.revocations.Revoke(r.Context(), claims.ID, time.Unix(claims.Exp, 0)); err != nil {
			log.WithError(err).Error("Failed to revoke token")
			http.Error(w, "Failed to sign out", http.StatusInternalServerError)
			return
		}
	}

	if err := h.sessions.SignOut(r.Context(), claims.UserID); err != nil {
		log.WithError(err).Warn("Sign-out left cached artifacts behind")
	}

	writeJSON(w, h.log, http.StatusOK, map[string]string{"message": "Signed out"})
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	user, err := h.users.FindUserByUID(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	writeJSON(w, h.log, http.StatusOK, user)
}

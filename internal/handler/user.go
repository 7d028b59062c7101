package handler

import (
	"net/http"

	"github.com/lumenapp/lumen/internal/ctxkeys"
	"github.com/lumenapp/lumen/internal/service"
	"github.com/lumenapp/lumen/internal/validation"
)

type userHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *userHandler {
	return &userHandler{userService: userService}
}

func (h *userHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	respondJSON(w, http.StatusOK, map[string]any{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"image":         user.Image,
		"createdAt":     user.CreatedAt,
		"emailVerified": user.EmailVerifiedAt,
	})
}

func (h *userHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	var req struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.userService.UpdateProfile(user.ID, req.Name, req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated.Public())
}

func (h *userHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validation.ValidatePassword(req.NewPassword); err != nil {
		respondFieldErrors(w, map[string]string{"newPassword": err.Error()})
		return
	}

	err := h.userService.UpdatePassword(user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

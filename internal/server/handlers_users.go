package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

type registerRequestPayload struct {
	Name     string `json:"name" validate:"notblank,max=190"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginRequestPayload struct {
	Email    string `json:"email" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type userPayload struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserPayload(user users.User) userPayload {
	return userPayload{ID: user.ID, Name: user.Name, Email: user.Email, CreatedAt: user.CreatedAt}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "invalid_request")
		return
	}
	if err := h.validator.Struct(request); err != nil {
		h.respondError(c, err)
		return
	}

	user, err := h.users.Create(c.Request.Context(), request.Name, request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserPayload(user))
}

// handleLogin accepts a JSON body or an OAuth2 password-grant form, where the
// email travels as "username".
func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	switch c.ContentType() {
	case binding.MIMEPOSTForm, binding.MIMEMultipartPOSTForm:
		request.Email = c.PostForm("username")
		request.Password = c.PostForm("password")
	default:
		if err := c.ShouldBindJSON(&request); err != nil {
			respondBadRequest(c, "invalid_request")
			return
		}
	}
	if err := h.validator.Struct(request); err != nil {
		h.respondError(c, err)
		return
	}

	token, err := h.authenticator.Login(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
	})
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	accounts, err := h.users.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]userPayload, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, newUserPayload(account))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, err := h.users.FindByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserPayload(user))
}

// handleDeleteUser only removes the caller's own account; any other id reads
// as missing.
func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if id != caller.UserID {
		h.respondError(c, users.ErrUserNotFound)
		return
	}
	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully", "id": id})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, "invalid_id")
		return 0, false
	}
	return id, true
}

package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/validation"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/votes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// classifyError maps domain failures onto a status and a client-facing reason.
func classifyError(err error) (int, string) {
	var validationErr *validation.Error
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, books.ErrOwnerNotFound),
		errors.Is(err, votes.ErrVoterNotFound):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, books.ErrBookNotFound):
		return http.StatusNotFound, "book_not_found"
	case errors.Is(err, votes.ErrAlreadyVoted):
		return http.StatusConflict, "already_voted"
	case errors.Is(err, votes.ErrNoSuchVote):
		return http.StatusBadRequest, "no_such_vote"
	case errors.Is(err, votes.ErrInvalidDirection):
		return http.StatusBadRequest, "invalid_direction"
	case errors.Is(err, books.ErrInvalidBook),
		errors.Is(err, users.ErrInvalidUser),
		errors.Is(err, users.ErrInvalidPassword):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, users.ErrDuplicateEmail):
		return http.StatusInternalServerError, "duplicate_email"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, reason := classifyError(err)
	body := gin.H{"error": reason}
	if code, ok := serviceerr.CodeOf(err); ok {
		body["code"] = code
	}
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		body["fields"] = validationErr.Fields
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func respondBadRequest(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": reason})
}

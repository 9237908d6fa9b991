package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/votes"
	"github.com/gin-gonic/gin"
)

type voteRequestPayload struct {
	BookID int64 `json:"book_id" validate:"gt=0"`
	Dir    *int  `json:"dir" validate:"required"`
}

var voteMessages = map[votes.Outcome]string{
	votes.OutcomeRecorded: "Vote recorded successfully",
	votes.OutcomeRemoved:  "Deleted vote successfully",
}

func (h *httpHandler) handleVote(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "invalid_request")
		return
	}
	if err := h.validator.Struct(request); err != nil {
		h.respondError(c, err)
		return
	}
	direction, err := votes.ParseDirection(*request.Dir)
	if err != nil {
		h.respondError(c, err)
		return
	}

	outcome, err := h.votes.Cast(c.Request.Context(), caller.UserID, request.BookID, direction)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": voteMessages[outcome]})
}

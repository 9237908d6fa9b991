package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/catalog"
	"github.com/gin-gonic/gin"
)

type bookRequestPayload struct {
	Title     string `json:"title" validate:"notblank,max=300"`
	Author    string `json:"author" validate:"notblank,max=300"`
	Published *bool  `json:"published"`
}

func (p bookRequestPayload) fields() books.BookFields {
	published := true
	if p.Published != nil {
		published = *p.Published
	}
	return books.BookFields{Title: p.Title, Author: p.Author, Published: published}
}

type bulkBooksRequestPayload struct {
	Books []bookRequestPayload `json:"books" validate:"required,min=1,max=100,dive"`
}

type bookPayload struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Published bool      `json:"published"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type bookWithVotesPayload struct {
	bookPayload
	Votes int64 `json:"votes"`
}

func newBookPayload(book books.Book) bookPayload {
	return bookPayload{
		ID:        book.ID,
		Title:     book.Title,
		Author:    book.Author,
		Published: book.Published,
		OwnerID:   book.OwnerID,
		CreatedAt: book.CreatedAt,
	}
}

func newBookWithVotesPayload(entry catalog.Entry) bookWithVotesPayload {
	return bookWithVotesPayload{bookPayload: newBookPayload(entry.Book), Votes: entry.Votes}
}

func newBookWithVotesList(entries []catalog.Entry) []bookWithVotesPayload {
	response := make([]bookWithVotesPayload, 0, len(entries))
	for _, entry := range entries {
		response = append(response, newBookWithVotesPayload(entry))
	}
	return response
}

func (h *httpHandler) handleListBooks(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	entries, err := h.catalog.ListOwnedWithVotes(c.Request.Context(), caller.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_books"})
		return
	}
	c.JSON(http.StatusOK, newBookWithVotesList(entries))
}

func (h *httpHandler) handleCatalog(c *gin.Context) {
	entries, err := h.catalog.ListAllWithVotes(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookWithVotesList(entries))
}

func (h *httpHandler) handleGetBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entry, err := h.catalog.GetWithVotes(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookWithVotesPayload(entry))
}

func (h *httpHandler) handleCreateBook(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	request, ok := h.bindBook(c)
	if !ok {
		return
	}
	book, err := h.books.Create(c.Request.Context(), caller.UserID, request.fields())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBookPayload(book))
}

// handleCreateBooks stores a batch atomically. The body may be {"books": [...]}
// or a bare array.
func (h *httpHandler) handleCreateBooks(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		respondBadRequest(c, "invalid_request")
		return
	}
	var request bulkBooksRequestPayload
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &request.Books)
	} else {
		err = json.Unmarshal(trimmed, &request)
	}
	if err != nil {
		respondBadRequest(c, "invalid_request")
		return
	}
	if err := h.validator.Struct(request); err != nil {
		h.respondError(c, err)
		return
	}

	batch := make([]books.BookFields, 0, len(request.Books))
	for _, item := range request.Books {
		batch = append(batch, item.fields())
	}
	created, err := h.books.CreateMany(c.Request.Context(), caller.UserID, batch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]bookPayload, 0, len(created))
	for _, book := range created {
		response = append(response, newBookPayload(book))
	}
	c.JSON(http.StatusCreated, gin.H{"books": response})
}

func (h *httpHandler) handleUpdateBook(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	request, ok := h.bindBook(c)
	if !ok {
		return
	}
	book, err := h.books.Update(c.Request.Context(), id, caller.UserID, request.fields())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newBookPayload(book))
}

func (h *httpHandler) handleDeleteBook(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		abortUnauthorized(c)
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.books.Delete(c.Request.Context(), id, caller.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Book deleted successfully", "id": id})
}

func (h *httpHandler) bindBook(c *gin.Context) (bookRequestPayload, bool) {
	var request bookRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "invalid_request")
		return bookRequestPayload{}, false
	}
	if err := h.validator.Struct(request); err != nil {
		h.respondError(c, err)
		return bookRequestPayload{}, false
	}
	return request, true
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/testutil"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/votes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	flowSigningSecret = "flow-secret"
	jsonContentType   = "application/json"
)

type flowClient struct {
	t      *testing.T
	server *httptest.Server
}

func newFlowClient(t *testing.T, health func(context.Context) error) *flowClient {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenSQLite(t, &users.User{}, &books.Book{}, &votes.Vote{})
	logger := zap.NewNop()

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger, PasswordCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	bookService, err := books.NewService(books.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build book service: %v", err)
	}
	voteService, err := votes.NewService(votes.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build vote service: %v", err)
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{Database: db, Books: bookService, Votes: voteService, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build catalog service: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(flowSigningSecret),
		Issuer:        "bookshelf-auth",
		Audience:      "bookshelf-api",
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorConfig{Credentials: userService, Tokens: tokens, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build authenticator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Authenticator: authenticator,
		Users:         userService,
		Books:         bookService,
		Votes:         voteService,
		Catalog:       catalogService,
		Health:        health,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &flowClient{t: t, server: server}
}

func (f *flowClient) do(method, path, token string, body any, into any) int {
	f.t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		f.t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return f.send(request, into)
}

func (f *flowClient) send(request *http.Request, into any) int {
	f.t.Helper()
	response, err := f.server.Client().Do(request)
	if err != nil {
		f.t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if into != nil {
		if err := json.NewDecoder(response.Body).Decode(into); err != nil {
			f.t.Fatalf("failed to decode %s %s response: %v", request.Method, request.URL.Path, err)
		}
	}
	return response.StatusCode
}

func (f *flowClient) register(name, email, password string) userPayload {
	f.t.Helper()
	var created userPayload
	status := f.do(http.MethodPost, "/register", "", map[string]string{"name": name, "email": email, "password": password}, &created)
	if status != http.StatusCreated {
		f.t.Fatalf("register %s: expected 201, got %d", email, status)
	}
	return created
}

func (f *flowClient) login(email, password string) string {
	f.t.Helper()
	var token tokenResponsePayload
	status := f.do(http.MethodPost, "/login", "", map[string]string{"email": email, "password": password}, &token)
	if status != http.StatusOK {
		f.t.Fatalf("login %s: expected 200, got %d", email, status)
	}
	if token.TokenType != "bearer" || token.AccessToken == "" || token.ExpiresIn <= 0 {
		f.t.Fatalf("unexpected token response %+v", token)
	}
	return token.AccessToken
}

func TestRegisterLoginAndVoteFlow(t *testing.T) {
	client := newFlowClient(t, nil)

	ada := client.register("Ada", "ada@example.com", "pw-ada")
	if ada.ID == 0 || ada.Email != "ada@example.com" || ada.CreatedAt.IsZero() {
		t.Fatalf("unexpected registered user %+v", ada)
	}
	client.register("Bob", "bob@example.com", "pw-bob")
	adaToken := client.login("ada@example.com", "pw-ada")
	bobToken := client.login("bob@example.com", "pw-bob")

	var failure map[string]any
	if status := client.do(http.MethodGet, "/books", adaToken, nil, &failure); status != http.StatusNotFound {
		t.Fatalf("expected 404 for an empty shelf, got %d", status)
	}

	var book bookPayload
	status := client.do(http.MethodPost, "/books", adaToken, map[string]any{"title": "Dune", "author": "Herbert"}, &book)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if book.OwnerID != ada.ID || !book.Published {
		t.Fatalf("expected owned, published book, got %+v", book)
	}

	vote := func(token string, dir int) (int, map[string]any) {
		var body map[string]any
		status := client.do(http.MethodPost, "/vote", token, map[string]any{"book_id": book.ID, "dir": dir}, &body)
		return status, body
	}

	if status, body := vote(bobToken, 1); status != http.StatusOK || body["message"] != "Vote recorded successfully" {
		t.Fatalf("expected vote to be recorded, got %d %v", status, body)
	}

	var listed []bookWithVotesPayload
	if status := client.do(http.MethodGet, "/books", adaToken, nil, &listed); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(listed) != 1 || listed[0].ID != book.ID || listed[0].Votes != 1 || listed[0].Title != "Dune" {
		t.Fatalf("unexpected listing %+v", listed)
	}

	if status, body := vote(bobToken, 1); status != http.StatusConflict || body["code"] != "votes.cast.already_voted" {
		t.Fatalf("expected 409 on a repeated upvote, got %d %v", status, body)
	}
	if status, body := vote(bobToken, 0); status != http.StatusOK || body["message"] != "Deleted vote successfully" {
		t.Fatalf("expected vote removal, got %d %v", status, body)
	}
	if status, body := vote(bobToken, 0); status != http.StatusBadRequest || body["error"] != "no_such_vote" {
		t.Fatalf("expected 400 when no vote exists, got %d %v", status, body)
	}
	if status, body := vote(bobToken, 2); status != http.StatusBadRequest || body["error"] != "invalid_direction" {
		t.Fatalf("expected 400 for an invalid direction, got %d %v", status, body)
	}

	var single bookWithVotesPayload
	if status := client.do(http.MethodGet, "/books/"+itoa(book.ID), bobToken, nil, &single); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if single.Votes != 0 {
		t.Fatalf("expected vote count back at zero, got %d", single.Votes)
	}

	var missing map[string]any
	status = client.do(http.MethodPost, "/vote", bobToken, map[string]any{"book_id": book.ID + 100, "dir": 1}, &missing)
	if status != http.StatusNotFound || missing["error"] != "book_not_found" {
		t.Fatalf("expected 404 for a missing book, got %d %v", status, missing)
	}

	var absent map[string]any
	status = client.do(http.MethodPost, "/vote", bobToken, map[string]any{"dir": 1}, &absent)
	if status != http.StatusBadRequest || absent["error"] != "invalid_request" {
		t.Fatalf("expected 400 when book_id is omitted, got %d %v", status, absent)
	}
}

func TestBookOwnershipFlow(t *testing.T) {
	client := newFlowClient(t, nil)
	client.register("Ada", "ada@example.com", "pw-ada")
	client.register("Bob", "bob@example.com", "pw-bob")
	adaToken := client.login("ada@example.com", "pw-ada")
	bobToken := client.login("bob@example.com", "pw-bob")

	var book bookPayload
	if status := client.do(http.MethodPost, "/books", adaToken, map[string]any{"title": "Dune", "author": "Herbert"}, &book); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	path := "/books/" + itoa(book.ID)

	var failure map[string]any
	if status := client.do(http.MethodPut, path, bobToken, map[string]any{"title": "Stolen", "author": "Bob"}, &failure); status != http.StatusNotFound {
		t.Fatalf("expected 404 for a non-owner update, got %d", status)
	}
	if status := client.do(http.MethodDelete, path, bobToken, nil, &failure); status != http.StatusNotFound {
		t.Fatalf("expected 404 for a non-owner delete, got %d", status)
	}

	var updated bookPayload
	status := client.do(http.MethodPut, path, adaToken, map[string]any{"title": "Dune Messiah", "author": "Herbert", "published": false}, &updated)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	if updated.Title != "Dune Messiah" || updated.Published {
		t.Fatalf("unexpected update result %+v", updated)
	}

	if status := client.do(http.MethodPut, path, adaToken, map[string]any{"title": " ", "author": "Herbert"}, &failure); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for a blank title, got %d", status)
	}

	var deleted map[string]any
	if status := client.do(http.MethodDelete, path, adaToken, nil, &deleted); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if deleted["message"] != "Book deleted successfully" || deleted["id"] != float64(book.ID) {
		t.Fatalf("unexpected delete body %v", deleted)
	}
	if status := client.do(http.MethodGet, path, adaToken, nil, &failure); status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

func TestBulkCreateFlow(t *testing.T) {
	client := newFlowClient(t, nil)
	client.register("Ada", "ada@example.com", "pw-ada")
	token := client.login("ada@example.com", "pw-ada")

	var created struct {
		Books []bookPayload `json:"books"`
	}
	status := client.do(http.MethodPost, "/books/bulk", token, map[string]any{
		"books": []map[string]any{
			{"title": "One", "author": "A"},
			{"title": "Two", "author": "B", "published": false},
		},
	}, &created)
	if status != http.StatusCreated || len(created.Books) != 2 {
		t.Fatalf("expected two created books, got %d %+v", status, created)
	}
	if !created.Books[0].Published || created.Books[1].Published {
		t.Fatalf("expected published flags true/false, got %+v", created.Books)
	}
	var stored bookPayload
	if status := client.do(http.MethodGet, "/books/"+itoa(created.Books[1].ID), token, nil, &stored); status != http.StatusOK || stored.Published {
		t.Fatalf("expected stored book to stay unpublished, got %d %+v", status, stored)
	}

	status = client.do(http.MethodPost, "/books/bulk", token, []map[string]any{{"title": "Three", "author": "C"}}, &created)
	if status != http.StatusCreated || len(created.Books) != 1 {
		t.Fatalf("expected bare array batch to be accepted, got %d %+v", status, created)
	}

	var failure struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	status = client.do(http.MethodPost, "/books/bulk", token, map[string]any{
		"books": []map[string]any{{"title": "Four", "author": "D"}, {"title": "", "author": "E"}},
	}, &failure)
	if status != http.StatusBadRequest || failure.Fields["books[1].title"] != "is required" {
		t.Fatalf("expected field-level validation failure, got %d %+v", status, failure)
	}

	var listed []bookWithVotesPayload
	if status := client.do(http.MethodGet, "/books", token, nil, &listed); status != http.StatusOK || len(listed) != 3 {
		t.Fatalf("expected three stored books, got %d %d", status, len(listed))
	}
}

func TestAuthFailuresFlow(t *testing.T) {
	client := newFlowClient(t, nil)
	client.register("Ada", "ada@example.com", "pw-ada")

	var duplicate map[string]any
	status := client.do(http.MethodPost, "/register", "", map[string]string{"name": "Ada 2", "email": "ADA@example.com", "password": "pw"}, &duplicate)
	if status != http.StatusInternalServerError || duplicate["code"] != "users.create.duplicate_email" {
		t.Fatalf("expected 500 with duplicate_email code, got %d %v", status, duplicate)
	}

	var invalid map[string]any
	status = client.do(http.MethodPost, "/register", "", map[string]string{"name": "X", "email": "not-an-email", "password": "pw"}, &invalid)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for an invalid email, got %d", status)
	}

	var wrongPassword, unknownEmail map[string]any
	statusWrong := client.do(http.MethodPost, "/login", "", map[string]string{"email": "ada@example.com", "password": "nope"}, &wrongPassword)
	statusUnknown := client.do(http.MethodPost, "/login", "", map[string]string{"email": "nobody@example.com", "password": "nope"}, &unknownEmail)
	if statusWrong != http.StatusUnauthorized || statusUnknown != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both failures, got %d and %d", statusWrong, statusUnknown)
	}
	if wrongPassword["error"] != unknownEmail["error"] {
		t.Fatalf("login failures must be indistinguishable: %v vs %v", wrongPassword, unknownEmail)
	}

	var unauthorized map[string]any
	if status := client.do(http.MethodGet, "/books", "", nil, &unauthorized); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", status)
	}
	if status := client.do(http.MethodGet, "/books", "garbage", nil, &unauthorized); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token, got %d", status)
	}
}

func TestLoginAcceptsPasswordForm(t *testing.T) {
	client := newFlowClient(t, nil)
	client.register("Ada", "ada@example.com", "pw-ada")

	form := url.Values{"username": {"ada@example.com"}, "password": {"pw-ada"}}
	request, err := http.NewRequest(http.MethodPost, client.server.URL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token tokenResponsePayload
	if status := client.send(request, &token); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if token.AccessToken == "" || token.TokenType != "bearer" {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestUserRoutesFlow(t *testing.T) {
	client := newFlowClient(t, nil)
	ada := client.register("Ada", "ada@example.com", "pw-ada")
	bob := client.register("Bob", "bob@example.com", "pw-bob")
	adaToken := client.login("ada@example.com", "pw-ada")

	var listed []map[string]any
	if status := client.do(http.MethodGet, "/users", adaToken, nil, &listed); status != http.StatusOK || len(listed) != 2 {
		t.Fatalf("expected two users, got %d %v", status, listed)
	}
	for _, entry := range listed {
		if _, leaked := entry["password_hash"]; leaked {
			t.Fatalf("password hash must never be serialized: %v", entry)
		}
	}

	var fetched userPayload
	if status := client.do(http.MethodGet, "/users/"+itoa(bob.ID), adaToken, nil, &fetched); status != http.StatusOK || fetched.Email != "bob@example.com" {
		t.Fatalf("expected bob, got %d %+v", status, fetched)
	}
	var failure map[string]any
	if status := client.do(http.MethodGet, "/users/abc", adaToken, nil, &failure); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed id, got %d", status)
	}
	if status := client.do(http.MethodDelete, "/users/"+itoa(bob.ID), adaToken, nil, &failure); status != http.StatusNotFound {
		t.Fatalf("expected 404 when deleting another account, got %d", status)
	}

	var deleted map[string]any
	if status := client.do(http.MethodDelete, "/users/"+itoa(ada.ID), adaToken, nil, &deleted); status != http.StatusOK {
		t.Fatalf("expected 200 for self-delete, got %d", status)
	}
	if status := client.do(http.MethodGet, "/users/"+itoa(ada.ID), adaToken, nil, &failure); status != http.StatusNotFound {
		t.Fatalf("expected deleted account to be gone, got %d", status)
	}
}

func TestDeletedAccountCannotWrite(t *testing.T) {
	client := newFlowClient(t, nil)
	ada := client.register("Ada", "ada@example.com", "pw-ada")
	client.register("Bob", "bob@example.com", "pw-bob")
	adaToken := client.login("ada@example.com", "pw-ada")
	bobToken := client.login("bob@example.com", "pw-bob")

	var book bookPayload
	if status := client.do(http.MethodPost, "/books", bobToken, map[string]any{"title": "Dune", "author": "Herbert"}, &book); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if status := client.do(http.MethodDelete, "/users/"+itoa(ada.ID), adaToken, nil, nil); status != http.StatusOK {
		t.Fatalf("expected 200 for self-delete, got %d", status)
	}

	var failure map[string]any
	status := client.do(http.MethodPost, "/books", adaToken, map[string]any{"title": "Orphan", "author": "Ada"}, &failure)
	if status != http.StatusUnauthorized || failure["code"] != "books.create.owner_missing" {
		t.Fatalf("expected 401 owner_missing for a deleted account, got %d %v", status, failure)
	}
	status = client.do(http.MethodPost, "/books/bulk", adaToken, map[string]any{
		"books": []map[string]any{{"title": "Orphan", "author": "Ada"}},
	}, &failure)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bulk write from a deleted account, got %d %v", status, failure)
	}
	status = client.do(http.MethodPost, "/vote", adaToken, map[string]any{"book_id": book.ID, "dir": 1}, &failure)
	if status != http.StatusUnauthorized || failure["code"] != "votes.cast.voter_missing" {
		t.Fatalf("expected 401 voter_missing for a deleted account, got %d %v", status, failure)
	}
}

func TestCatalogAndHealthFlow(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	client := newFlowClient(t, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("database unavailable")
	})
	client.register("Ada", "ada@example.com", "pw-ada")
	client.register("Bob", "bob@example.com", "pw-bob")
	adaToken := client.login("ada@example.com", "pw-ada")
	bobToken := client.login("bob@example.com", "pw-bob")

	var book bookPayload
	client.do(http.MethodPost, "/books", adaToken, map[string]any{"title": "Dune", "author": "Herbert"}, &book)
	client.do(http.MethodPost, "/books", bobToken, map[string]any{"title": "Emma", "author": "Austen"}, &book)
	client.do(http.MethodPost, "/vote", adaToken, map[string]any{"book_id": book.ID, "dir": 1}, nil)

	var all []bookWithVotesPayload
	if status := client.do(http.MethodGet, "/catalog", "", nil, &all); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(all) != 2 || all[0].Title != "Dune" || all[1].Title != "Emma" || all[1].Votes != 1 {
		t.Fatalf("unexpected catalog %+v", all)
	}

	var health map[string]string
	if status := client.do(http.MethodGet, "/healthz", "", nil, &health); status != http.StatusOK || health["status"] != "up" {
		t.Fatalf("expected healthy status, got %d %v", status, health)
	}
	healthy.Store(false)
	if status := client.do(http.MethodGet, "/healthz", "", nil, &health); status != http.StatusServiceUnavailable || health["status"] != "down" {
		t.Fatalf("expected unhealthy status, got %d %v", status, health)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	client := newFlowClient(t, nil)

	request, err := http.NewRequest(http.MethodGet, client.server.URL+"/healthz", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("X-Request-ID", "req-123")
	response, err := client.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.Header.Get("X-Request-ID") != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", response.Header.Get("X-Request-ID"))
	}

	generated, err := client.server.Client().Get(client.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer generated.Body.Close()
	if len(generated.Header.Get("X-Request-ID")) != 36 {
		t.Fatalf("expected a generated uuid request id, got %q", generated.Header.Get("X-Request-ID"))
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingAuthenticator) {
		t.Fatalf("expected missing authenticator error, got %v", err)
	}
}

func itoa(value int64) string {
	return strconv.FormatInt(value, 10)
}

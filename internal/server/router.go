package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/books"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/users"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/validation"
	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/votes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingUsers         = errors.New("user directory dependency required")
	errMissingBooks         = errors.New("book registry dependency required")
	errMissingVotes         = errors.New("vote ledger dependency required")
	errMissingCatalog       = errors.New("catalog dependency required")
)

// Authenticator logs users in and verifies bearer tokens.
type Authenticator interface {
	Login(ctx context.Context, email, rawPassword string) (auth.Token, error)
	Authenticate(token string) (auth.Claims, error)
}

// UserDirectory manages accounts.
type UserDirectory interface {
	Create(ctx context.Context, name, email, rawPassword string) (users.User, error)
	FindByID(ctx context.Context, id int64) (users.User, error)
	List(ctx context.Context) ([]users.User, error)
	Delete(ctx context.Context, id int64) error
}

// BookRegistry performs owner-scoped book mutations.
type BookRegistry interface {
	Create(ctx context.Context, ownerID int64, fields books.BookFields) (books.Book, error)
	CreateMany(ctx context.Context, ownerID int64, batch []books.BookFields) ([]books.Book, error)
	Update(ctx context.Context, id, callerID int64, fields books.BookFields) (books.Book, error)
	Delete(ctx context.Context, id, callerID int64) error
}

// VoteLedger records and removes votes.
type VoteLedger interface {
	Cast(ctx context.Context, userID, bookID int64, direction votes.Direction) (votes.Outcome, error)
}

// CatalogReader serves books joined with their vote counts.
type CatalogReader interface {
	ListOwnedWithVotes(ctx context.Context, ownerID int64) ([]catalog.Entry, error)
	ListAllWithVotes(ctx context.Context) ([]catalog.Entry, error)
	GetWithVotes(ctx context.Context, bookID int64) (catalog.Entry, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Authenticator  Authenticator
	Users          UserDirectory
	Books          BookRegistry
	Votes          VoteLedger
	Catalog        CatalogReader
	Health         func(ctx context.Context) error
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the REST routes and /ws.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Books == nil {
		return nil, errMissingBooks
	}
	if deps.Votes == nil {
		return nil, errMissingVotes
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalog
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := &httpHandler{
		authenticator: deps.Authenticator,
		users:         deps.Users,
		books:         deps.Books,
		votes:         deps.Votes,
		catalog:       deps.Catalog,
		health:        deps.Health,
		validator:     validation.New(),
		logger:        logger,
	}
	echo := newEchoHandler(deps.AllowedOrigins, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.POST("/register", handler.handleRegister)
	router.POST("/login", handler.handleLogin)
	router.GET("/catalog", handler.handleCatalog)
	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", echo.serve)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users", handler.handleListUsers)
	protected.GET("/users/:id", handler.handleGetUser)
	protected.DELETE("/users/:id", handler.handleDeleteUser)
	protected.GET("/books", handler.handleListBooks)
	protected.POST("/books", handler.handleCreateBook)
	protected.POST("/books/bulk", handler.handleCreateBooks)
	protected.GET("/books/:id", handler.handleGetBook)
	protected.PUT("/books/:id", handler.handleUpdateBook)
	protected.DELETE("/books/:id", handler.handleDeleteBook)
	protected.POST("/vote", handler.handleVote)

	return router, nil
}

type httpHandler struct {
	authenticator Authenticator
	users         UserDirectory
	books         BookRegistry
	votes         VoteLedger
	catalog       CatalogReader
	health        func(ctx context.Context) error
	validator     *validation.Validator
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "up"})
}

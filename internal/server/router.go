package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/collabboard/backend/internal/collab"
	"github.com/collabboard/backend/internal/documents"
	"github.com/collabboard/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "collabboard_user_id"

var (
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingDocumentsService = errors.New("documents service dependency required")
	errMissingEngine           = errors.New("collaboration engine dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	Issue(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the services behind it.
type Dependencies struct {
	TokenManager     TokenManager
	UsersService     *users.Service
	DocumentsService *documents.Service
	Engine           *collab.Engine
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router: the auth and document REST surface,
// the health endpoint, and the websocket upgrade endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.DocumentsService == nil {
		return nil, errMissingDocumentsService
	}
	if deps.Engine == nil {
		return nil, errMissingEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		users:     deps.UsersService,
		documents: deps.DocumentsService,
		engine:    deps.Engine,
		logger:    logger,
	}

	router.GET("/health", handler.handleHealth)
	router.POST("/api/auth/register", handler.handleRegister)
	router.POST("/api/auth/login", handler.handleLogin)
	router.GET("/ws", handler.handleWebsocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/api/auth/profile", handler.handleProfile)
	protected.POST("/api/auth/logout", handler.handleLogout)
	protected.GET("/api/documents", handler.handleListDocuments)
	protected.POST("/api/documents", handler.handleCreateDocument)
	protected.GET("/api/documents/:id", handler.handleGetDocument)
	protected.PUT("/api/documents/:id", handler.handleUpdateDocument)
	protected.DELETE("/api/documents/:id", handler.handleDeleteDocument)
	protected.GET("/api/documents/:id/versions", handler.handleDocumentVersions)

	return router, nil
}

type httpHandler struct {
	tokens    TokenManager
	users     *users.Service
	documents *documents.Service
	engine    *collab.Engine
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type registerRequestPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type authResponsePayload struct {
	Message string      `json:"message"`
	User    userPayload `json:"user"`
	Token   string      `json:"token"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), users.RegisterParams{
		Username: request.Username,
		Email:    request.Email,
		Password: request.Password,
	})
	switch {
	case errors.Is(err, users.ErrInvalidRegistration), errors.Is(err, users.ErrPasswordTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, users.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "username or email already exists"})
		return
	case err != nil:
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	token, _, err := h.tokens.Issue(c.Request.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusCreated, authResponsePayload{
		Message: "User created successfully",
		User:    userPayload{ID: account.ID, Username: account.Username, Email: account.Email},
		Token:   token,
	})
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), request.Username, request.Password)
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	case errors.Is(err, users.ErrAccountDisabled):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account is deactivated"})
		return
	case err != nil:
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, _, err := h.tokens.Issue(c.Request.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		Message: "Login successful",
		User:    userPayload{ID: account.ID, Username: account.Username, Email: account.Email},
		Token:   token,
	})
}

type profileResponsePayload struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	DocumentCount int64  `json:"documentCount"`
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	account, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	count, err := h.documents.CountOwned(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to count documents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profileResponsePayload{
		ID:            account.ID,
		Username:      account.Username,
		Email:         account.Email,
		DocumentCount: count,
	}})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	// Stateless tokens: the client discards its copy.
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

type documentSummaryPayload struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	OwnerUsername string    `json:"ownerUsername"`
	IsPublic      bool      `json:"isPublic"`
	VersionCount  int64     `json:"versionCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	summaries, err := h.documents.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list documents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]documentSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, documentSummaryPayload{
			ID:            summary.ID,
			Title:         summary.Title,
			OwnerUsername: summary.OwnerUsername,
			IsPublic:      summary.IsPublic,
			VersionCount:  summary.VersionCount,
			CreatedAt:     summary.CreatedAt,
			UpdatedAt:     summary.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"documents": payload})
}

type createDocumentPayload struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	IsPublic bool   `json:"isPublic"`
}

type documentResponsePayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerID   string    `json:"ownerId"`
	IsPublic  bool      `json:"isPublic"`
	IsOwner   bool      `json:"isOwner"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	document, err := h.documents.Create(c.Request.Context(), documents.CreateParams{
		OwnerID:  userID,
		Title:    request.Title,
		Content:  request.Content,
		IsPublic: request.IsPublic,
	})
	if errors.Is(err, documents.ErrMissingTitle) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document title is required"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Document created successfully",
		"document": documentResponsePayload{
			ID:        document.ID,
			Title:     document.Title,
			Content:   document.Content,
			OwnerID:   document.OwnerID,
			IsPublic:  document.IsPublic,
			IsOwner:   true,
			UpdatedAt: document.UpdatedAt,
		},
	})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	view, err := h.documents.GetForAccess(c.Request.Context(), c.Param("id"), userID)
	if errors.Is(err, documents.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found or access denied"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": documentResponsePayload{
		ID:        view.ID,
		Title:     view.Title,
		Content:   view.Content,
		OwnerID:   view.OwnerID,
		IsPublic:  view.IsPublic,
		IsOwner:   view.OwnerID == userID,
		UpdatedAt: view.UpdatedAt,
	}})
}

type updateDocumentPayload struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	IsPublic *bool   `json:"isPublic"`
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request updateDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	document, err := h.documents.Update(c.Request.Context(), c.Param("id"), userID, documents.UpdateParams{
		Title:    request.Title,
		Content:  request.Content,
		IsPublic: request.IsPublic,
	})
	switch {
	case errors.Is(err, documents.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found or access denied"})
		return
	case errors.Is(err, documents.ErrMissingTitle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "document title is required"})
		return
	case err != nil:
		h.logger.Error("failed to update document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Document updated successfully",
		"document": documentResponsePayload{
			ID:        document.ID,
			Title:     document.Title,
			Content:   document.Content,
			OwnerID:   document.OwnerID,
			IsPublic:  document.IsPublic,
			IsOwner:   true,
			UpdatedAt: document.UpdatedAt,
		},
	})
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.documents.Delete(c.Request.Context(), c.Param("id"), userID)
	if errors.Is(err, documents.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found or access denied"})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete document", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted successfully"})
}

type versionPayload struct {
	ID             string    `json:"id"`
	VersionNumber  int64     `json:"versionNumber"`
	Description    string    `json:"changeDescription"`
	AuthorUsername string    `json:"createdByUsername"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (h *httpHandler) handleDocumentVersions(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	versions, err := h.documents.Versions(c.Request.Context(), c.Param("id"), userID)
	switch {
	case errors.Is(err, documents.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	case errors.Is(err, documents.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	case err != nil:
		h.logger.Error("failed to load versions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "versions_failed"})
		return
	}

	payload := make([]versionPayload, 0, len(versions))
	for _, version := range versions {
		payload = append(payload, versionPayload{
			ID:             version.ID,
			VersionNumber:  version.VersionNumber,
			Description:    version.Description,
			AuthorUsername: version.AuthorUsername,
			CreatedAt:      version.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"versions": payload})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

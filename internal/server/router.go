package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/auth"
	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/MarcoPoloResearchLab/canvas/internal/collab"
	"github.com/MarcoPoloResearchLab/canvas/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "canvas_user_id"

// DocumentReader returns a room's document to one of its members.
type DocumentReader interface {
	Document(ctx context.Context, roomID, userID string) (canvas.Document, error)
	RoomCount() int
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Verifier       CredentialVerifier
	Documents      DocumentReader
	Supervisor     *Supervisor
	Metrics        *Metrics
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving health, stats, the websocket
// endpoint and the document read route.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Documents == nil {
		return nil, errMissingRegistry
	}
	if deps.Supervisor == nil {
		return nil, errMissingSupervisor
	}

	logger := deps.Logger
	if logger == nil {
		logger = noOpLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = deps.Supervisor.metrics
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		verifier:   deps.Verifier,
		documents:  deps.Documents,
		supervisor: deps.Supervisor,
		metrics:    metrics,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/stats", handler.handleStats)
	router.GET("/ws", handler.handleWebsocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/rooms/:roomId/document", handler.handleDocument)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}
	allowAll := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

type httpHandler struct {
	verifier   CredentialVerifier
	documents  DocumentReader
	supervisor *Supervisor
	metrics    *Metrics
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	snapshot := h.metrics.Snapshot()
	snapshot.Rooms = h.documents.RoomCount()
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	h.supervisor.ServeWS(c.Writer, c.Request)
}

type documentResponsePayload struct {
	Document canvas.Document `json:"document"`
}

func (h *httpHandler) handleDocument(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	document, err := h.documents.Document(c.Request.Context(), c.Param("roomId"), userID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to read document", zap.String("room_id", c.Param("roomId")), zap.Error(err))
			c.JSON(status, gin.H{"error": KindInternal})
			return
		}
		c.JSON(status, gin.H{"error": errorKind(err), "code": errorCode(err)})
		return
	}
	c.JSON(http.StatusOK, documentResponsePayload{Document: document})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, collab.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, canvas.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, canvas.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
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
	principal, err := h.verifier.VerifyCredential(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrExpiredCredential) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, principal.UserID)
	c.Next()
}

var _ CredentialVerifier = (*users.CredentialVerifier)(nil)

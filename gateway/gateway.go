package gateway

import (
	goerrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"deal-chat/auth"
	"deal-chat/contract"
	"deal-chat/errors"
	"deal-chat/runtime/workers"
	"deal-chat/search"
	"deal-chat/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var validate = validator.New()

// Gateway is the HTTP/WebSocket surface: account endpoints, the socket
// upgrade, and the chat search API.
type Gateway struct {
	log         *slog.Logger
	upgrader    websocket.Upgrader
	chatService services.IChatService
	authService services.IAuthService
	tokens      *auth.TokenManager
	registry    contract.IRegistry
	typing      *workers.TypingBroadcaster
	gate        contract.VerificationGate
	index       *search.MessageIndex
	sendBuffer  int
}

func NewGateway(log *slog.Logger, chatService services.IChatService,
	authService services.IAuthService, tokens *auth.TokenManager,
	registry contract.IRegistry, typing *workers.TypingBroadcaster,
	gate contract.VerificationGate, index *search.MessageIndex,
	sendBuffer int) *Gateway {
	return &Gateway{
		log:         log,
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		chatService: chatService,
		authService: authService,
		tokens:      tokens,
		registry:    registry,
		typing:      typing,
		gate:        gate,
		index:       index,
		sendBuffer:  sendBuffer,
	}
}

func (g *Gateway) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/auth/register", g.handleRegister)
	router.POST("/auth/login", g.handleLogin)
	router.GET("/ws", g.handleSocket)
	router.GET("/chats/:id/search", g.handleSearch)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": g.registry.Size()})
	})
	return router
}

// handleSocket upgrades the HTTP request and runs the session inline
// until the client disconnects.
func (g *Gateway) handleSocket(c *gin.Context) {
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("Upgrade failed", "error", err)
		return
	}

	conn := NewConn(ws, g.log, g.sendBuffer)
	conn.Start()
	newSession(g, conn).run(c.Request.Context())
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (g *Gateway) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	token, err := g.authService.Register(req.Email, req.Password)
	if err != nil {
		c.JSON(httpStatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": string(token)})
}

func (g *Gateway) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	token, err := g.authService.Login(req.Email, req.Password)
	if err != nil {
		c.JSON(httpStatusOf(err), gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": string(token)})
}

// handleSearch runs a full-text query over one chat, restricted to its
// parties.
func (g *Gateway) handleSearch(c *gin.Context) {
	userID, ok := g.bearerUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
		return
	}
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	chat, err := g.chatService.GetChat(chatID)
	if err != nil {
		c.JSON(httpStatusOf(err), gin.H{"error": "chat not found"})
		return
	}
	if !chat.IsParty(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this chat"})
		return
	}

	terms := c.Query("q")
	if terms == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing q parameter"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}

	hits, err := g.index.Search(c.Request.Context(), chatID, terms, limit)
	if err != nil {
		g.log.Error("Search failed", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}

func (g *Gateway) bearerUser(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	claims, err := g.tokens.Validate(header[len(prefix):])
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

func httpStatusOf(err error) int {
	switch {
	case goerrors.Is(err, errors.ErrUserAlreadyExists):
		return http.StatusConflict
	case goerrors.Is(err, errors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	}
	switch errors.CodeOf(err) {
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "FORBIDDEN":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_PAYLOAD":
		return http.StatusBadRequest
	case "TRANSIENT":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

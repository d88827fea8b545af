package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"deal-chat/auth"
	"deal-chat/gateway"
	"deal-chat/moderation"
	"deal-chat/repositories"
	"deal-chat/runtime"
	"deal-chat/runtime/workers"
	"deal-chat/search"
	"deal-chat/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

const (
	e2ePassword   = "Negotiate&2026!pass"
	socketTimeout = 3 * time.Second
)

// BaseSocketSuite boots the full stack in-process (badger, moderation,
// search index, typing worker under supervision, websocket gateway) and
// exposes socket clients speaking the production wire protocol.
type BaseSocketSuite struct {
	suite.Suite
	Config Config

	db     *badger.DB
	index  *search.MessageIndex
	users  *repositories.UserRepository
	tokens *auth.TokenManager
	server *httptest.Server
	cancel context.CancelFunc
}

func (s *BaseSocketSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	gin.SetMode(gin.TestMode)

	log := logs.GetLoggerFromString("WARN")
	s.db, err = badger.Open(badger.DefaultOptions(s.T().TempDir()).WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)

	words, err := moderation.LoadBannedWords()
	s.Require().NoError(err)
	moderator, err := moderation.NewModerator(words, '*')
	s.Require().NoError(err)

	s.index, err = search.NewMessageIndex(s.T().TempDir(), log)
	s.Require().NoError(err)

	registry := runtime.NewRegistry(log)
	s.users = repositories.NewUserRepository(s.db)
	chatService := services.NewChatService(log,
		repositories.NewChatRepository(s.db, log),
		repositories.NewMessageLog(s.db, log),
		repositories.NewCursorRepository(s.db),
		registry, moderator, 1000)
	chatService.AddSinks(s.index)

	s.tokens = auth.NewTokenManager("e2e-secret", time.Hour)
	authService := services.NewAuthService(s.users, s.tokens)

	typing := workers.NewTypingBroadcaster(log, registry, 10*time.Millisecond, 200*time.Millisecond)
	sup := workers.NewSupervisor(log, 100*time.Millisecond).Add(typing)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go sup.Run(ctx)

	gw := gateway.NewGateway(log, chatService, authService, s.tokens,
		registry, typing, s.users, s.index, 64)
	s.server = httptest.NewServer(gw.Router())
}

func (s *BaseSocketSuite) TearDownSuite() {
	s.server.Close()
	s.cancel()
	_ = s.index.Close()
	_ = s.db.Close()
}

// Step prints a colorized header so scenario progress is readable in
// verbose test logs.
func (s *BaseSocketSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// RegisterUser creates an account over HTTP and resolves its user id
// from the issued token.
func (s *BaseSocketSuite) RegisterUser(email string) (userID, token string) {
	body, err := json.Marshal(map[string]string{"email": email, "password": e2ePassword})
	s.Require().NoError(err)

	resp, err := http.Post(s.server.URL+"/auth/register", "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))

	claims, err := s.tokens.Validate(out.Token)
	s.Require().NoError(err)
	return claims.UserID, out.Token
}

// VerifyBuyer flips the verified flag the join gate consults.
func (s *BaseSocketSuite) VerifyBuyer(userID string) {
	s.Require().NoError(s.users.SetVerified(userID))
}

type socketClient struct {
	s    *BaseSocketSuite
	name string
	ws   *websocket.Conn
}

func (s *BaseSocketSuite) Dial(name string) *socketClient {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	return &socketClient{s: s, name: name, ws: ws}
}

func (c *socketClient) Close() { _ = c.ws.Close() }

func (c *socketClient) Send(eventName string, data any) {
	raw, err := json.Marshal(data)
	c.s.Require().NoError(err)
	payload, err := json.Marshal(gateway.Envelope{Event: eventName, Data: raw})
	c.s.Require().NoError(err)
	if c.s.Config.DebugJSON {
		c.s.T().Logf("%s >> %s", c.name, payload)
	}
	c.s.Require().NoError(c.ws.WriteMessage(websocket.TextMessage, payload))
}

// Expect reads exactly one frame and asserts its event name.
func (c *socketClient) Expect(eventName string) gateway.Envelope {
	c.s.Require().NoError(c.ws.SetReadDeadline(time.Now().Add(socketTimeout)))
	_, payload, err := c.ws.ReadMessage()
	c.s.Require().NoErrorf(err, "%s expected %q but the read failed", c.name, eventName)
	if c.s.Config.DebugJSON {
		c.s.T().Logf("%s << %s", c.name, payload)
	}

	var envelope gateway.Envelope
	c.s.Require().NoError(json.Unmarshal(payload, &envelope))
	c.s.Require().Equalf(eventName, envelope.Event, "%s received %s", c.name, payload)
	return envelope
}

func (c *socketClient) ExpectError(code string) {
	envelope := c.Expect(gateway.EventError)
	c.s.Require().Equal(code, decodeAs[gateway.ErrorPayload](c.s, envelope).Code)
}

func (c *socketClient) ExpectMessage() gateway.MessagePayload {
	return decodeAs[gateway.MessagePayload](c.s, c.Expect(gateway.EventReceiveMessage))
}

func (c *socketClient) ExpectTyping() gateway.UserTypingPayload {
	return decodeAs[gateway.UserTypingPayload](c.s, c.Expect(gateway.EventUserTyping))
}

func (c *socketClient) ExpectReadState() gateway.ReadStatePayload {
	return decodeAs[gateway.ReadStatePayload](c.s, c.Expect(gateway.EventReadState))
}

func (c *socketClient) ExpectBlocked() gateway.UserBlockedPayload {
	return decodeAs[gateway.UserBlockedPayload](c.s, c.Expect(gateway.EventUserBlocked))
}

func (c *socketClient) Authenticate(token string) {
	c.Send(gateway.EventAuthenticate, gateway.AuthenticatePayload{Token: token})
}

func (c *socketClient) Join(productID, buyerID, sellerID string, lastSequence uint64) gateway.JoinedChatPayload {
	c.Send(gateway.EventJoinChat, gateway.JoinChatPayload{
		ProductID:    productID,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		LastSequence: lastSequence,
	})
	return decodeAs[gateway.JoinedChatPayload](c.s, c.Expect(gateway.EventJoinedChat))
}

func decodeAs[T any](s *BaseSocketSuite, envelope gateway.Envelope) T {
	var out T
	s.Require().NoError(json.Unmarshal(envelope.Data, &out))
	return out
}

package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deal-chat/auth"
	"deal-chat/repositories"
	"deal-chat/runtime"
	"deal-chat/runtime/workers"
	"deal-chat/search"
	"deal-chat/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// verificationStub answers the buyer verification check in tests.
type verificationStub struct{ verified bool }

func (v verificationStub) IsVerified(string) (bool, error) { return v.verified, nil }

type fixture struct {
	server      *httptest.Server
	chatService *services.ChatService
	tokens      *auth.TokenManager
}

func newFixture(t *testing.T, gate verificationStub) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	registry := runtime.NewRegistry(log)
	chatService := services.NewChatService(log,
		repositories.NewChatRepository(db, log),
		repositories.NewMessageLog(db, log),
		repositories.NewCursorRepository(db),
		registry, nil, 1000)
	tokens := auth.NewTokenManager("gateway-test-secret", time.Hour)
	authService := services.NewAuthService(repositories.NewUserRepository(db), tokens)
	typing := workers.NewTypingBroadcaster(log, registry, 10*time.Millisecond, 100*time.Millisecond)

	index, err := search.NewMessageIndex(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	g := NewGateway(log, chatService, authService, tokens, registry, typing, gate, index, 64)
	server := httptest.NewServer(g.Router())
	t.Cleanup(server.Close)

	return &fixture{server: server, chatService: chatService, tokens: tokens}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (f *fixture) send(t *testing.T, ws *websocket.Conn, eventName string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	payload, err := json.Marshal(Envelope{Event: eventName, Data: raw})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))
}

func (f *fixture) authenticate(t *testing.T, ws *websocket.Conn, userID string) {
	t.Helper()
	token, err := f.tokens.Generate(userID)
	require.NoError(t, err)
	f.send(t, ws, EventAuthenticate, AuthenticatePayload{Token: token})
}

func (f *fixture) join(t *testing.T, ws *websocket.Conn, userID string, lastSequence uint64) JoinedChatPayload {
	t.Helper()
	f.authenticate(t, ws, userID)
	f.send(t, ws, EventJoinChat, JoinChatPayload{
		ProductID: "product-1", BuyerID: "buyer-1", SellerID: "seller-1",
		LastSequence: lastSequence,
	})
	envelope := readEnvelope(t, ws)
	require.Equal(t, EventJoinedChat, envelope.Event)
	return decodeAs[JoinedChatPayload](t, envelope)
}

func readEnvelope(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(readTimeout)))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	var envelope Envelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	return envelope
}

func decodeAs[T any](t *testing.T, envelope Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(envelope.Data, &out))
	return out
}

func Test_Join_Requires_Authentication(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: true})
	ws := f.dial(t)

	f.send(t, ws, EventJoinChat, JoinChatPayload{
		ProductID: "product-1", BuyerID: "buyer-1", SellerID: "seller-1",
	})

	envelope := readEnvelope(t, ws)
	req.Equal(EventError, envelope.Event)
	req.Equal("UNAUTHORIZED", decodeAs[ErrorPayload](t, envelope).Code)
}

func Test_Join_Rejects_Non_Party(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: true})
	ws := f.dial(t)

	f.authenticate(t, ws, "intruder")
	f.send(t, ws, EventJoinChat, JoinChatPayload{
		ProductID: "product-1", BuyerID: "buyer-1", SellerID: "seller-1",
	})

	envelope := readEnvelope(t, ws)
	req.Equal(EventError, envelope.Event)
	req.Equal("FORBIDDEN", decodeAs[ErrorPayload](t, envelope).Code)
}

func Test_Unverified_Buyer_Cannot_Join(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: false})
	ws := f.dial(t)

	f.authenticate(t, ws, "buyer-1")
	f.send(t, ws, EventJoinChat, JoinChatPayload{
		ProductID: "product-1", BuyerID: "buyer-1", SellerID: "seller-1",
	})

	envelope := readEnvelope(t, ws)
	req.Equal(EventError, envelope.Event)
	req.Equal("FORBIDDEN", decodeAs[ErrorPayload](t, envelope).Code)

	// The seller side of the pair is not gated on verification
	seller := f.dial(t)
	joined := f.join(t, seller, "seller-1", 0)
	req.NotEmpty(joined.ChatID)
}

func Test_Send_Fans_Out_With_Correlation_ID(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: true})

	buyer := f.dial(t)
	seller := f.dial(t)
	f.join(t, buyer, "buyer-1", 0)
	f.join(t, seller, "seller-1", 0)

	f.send(t, buyer, EventSendMessage, SendMessagePayload{
		CorrelationID: "corr-42",
		Body:          "would you take 90?",
	})

	for _, ws := range []*websocket.Conn{buyer, seller} {
		envelope := readEnvelope(t, ws)
		req.Equal(EventReceiveMessage, envelope.Event)
		message := decodeAs[MessagePayload](t, envelope)
		req.Equal("buyer-1", message.SenderID)
		req.Equal("would you take 90?", message.Body)
		req.Equal("corr-42", message.CorrelationID)
		req.Equal(uint64(1), message.Sequence)
	}
}

func Test_Reconnect_Backfills_Missed_Messages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: true})

	// Given a chat with history the client has partially seen
	seller := f.dial(t)
	f.join(t, seller, "seller-1", 0)
	for i := 1; i <= 4; i++ {
		f.send(t, seller, EventSendMessage, SendMessagePayload{
			CorrelationID: fmt.Sprintf("corr-%d", i),
			Body:          fmt.Sprintf("update %d", i),
		})
		readEnvelope(t, seller)
	}

	// When the buyer connects claiming sequence 2
	buyer := f.dial(t)
	joined := f.join(t, buyer, "buyer-1", 2)
	req.Equal(uint64(4), joined.LastSequence)
	req.Equal(4, joined.UnreadCount)

	// Then exactly 3 and 4 are replayed, in order, still carrying the
	// sender's reconciliation ids
	for _, want := range []uint64{3, 4} {
		envelope := readEnvelope(t, buyer)
		req.Equal(EventReceiveMessage, envelope.Event)
		message := decodeAs[MessagePayload](t, envelope)
		req.Equal(want, message.Sequence)
		req.Equal(fmt.Sprintf("corr-%d", want), message.CorrelationID)
	}
}

func Test_Block_Notifies_Room_And_Gates_Sends(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: true})

	buyer := f.dial(t)
	seller := f.dial(t)
	f.join(t, buyer, "buyer-1", 0)
	f.join(t, seller, "seller-1", 0)

	// When the buyer blocks
	f.send(t, buyer, EventBlockUser, struct{}{})

	envelope := readEnvelope(t, seller)
	req.Equal(EventUserBlocked, envelope.Event)
	req.Equal("buyer-1", decodeAs[UserBlockedPayload](t, envelope).BlockedBy)

	// Then the seller's sends bounce without reaching the log
	f.send(t, seller, EventSendMessage, SendMessagePayload{Body: "please respond"})
	envelope = readEnvelope(t, seller)
	req.Equal(EventError, envelope.Event)
	req.Equal("BLOCKED", decodeAs[ErrorPayload](t, envelope).Code)

	last, err := f.chatService.LastSequence(chatIDOf(t, f))
	req.NoError(err)
	req.Zero(last)
}

func Test_Typing_Reaches_The_Peer_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: true})

	buyer := f.dial(t)
	seller := f.dial(t)
	f.join(t, buyer, "buyer-1", 0)
	f.join(t, seller, "seller-1", 0)

	f.send(t, buyer, EventTyping, TypingPayload{IsTyping: true})

	envelope := readEnvelope(t, seller)
	req.Equal(EventUserTyping, envelope.Event)
	typing := decodeAs[UserTypingPayload](t, envelope)
	req.Equal("buyer-1", typing.UserID)
	req.True(typing.IsTyping)
}

func Test_Read_Receipt_Broadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: true})

	buyer := f.dial(t)
	seller := f.dial(t)
	f.join(t, buyer, "buyer-1", 0)
	f.join(t, seller, "seller-1", 0)

	f.send(t, seller, EventSendMessage, SendMessagePayload{Body: "final price 85"})
	readEnvelope(t, buyer)
	readEnvelope(t, seller)

	f.send(t, buyer, EventMarkRead, MarkReadPayload{Sequence: 1})

	envelope := readEnvelope(t, seller)
	req.Equal(EventReadState, envelope.Event)
	state := decodeAs[ReadStatePayload](t, envelope)
	req.Equal("buyer-1", state.UserID)
	req.Equal(uint64(1), state.Sequence)
}

func Test_Malformed_Payload_Keeps_Connection_Alive(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, verificationStub{verified: true})

	buyer := f.dial(t)
	f.join(t, buyer, "buyer-1", 0)

	// Given an empty message
	f.send(t, buyer, EventSendMessage, SendMessagePayload{})
	envelope := readEnvelope(t, buyer)
	req.Equal(EventError, envelope.Event)
	req.Equal("INVALID_PAYLOAD", decodeAs[ErrorPayload](t, envelope).Code)

	// The connection survives and keeps working
	f.send(t, buyer, EventSendMessage, SendMessagePayload{Body: "still here"})
	envelope = readEnvelope(t, buyer)
	req.Equal(EventReceiveMessage, envelope.Event)
}

// chatIDOf resolves the fixture's single chat through the service.
func chatIDOf(t *testing.T, f *fixture) uuid.UUID {
	t.Helper()
	chat, err := f.chatService.OpenChat("product-1", "buyer-1", "seller-1")
	require.NoError(t, err)
	return chat.ID
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"deal-chat/domain"
	"deal-chat/errors"

	"github.com/gorilla/websocket"
)

// session is the per-connection inbound worker: it reads the socket,
// dispatches named events, and cleans up room membership on exit.
// Authentication must complete before any join or dispatch is accepted,
// and a join must complete before chat-scoped events.
type session struct {
	gw   *Gateway
	conn *Conn
	log  *slog.Logger

	userID string
	chat   domain.Chat
	joined bool
}

func newSession(gw *Gateway, conn *Conn) *session {
	return &session{
		gw:   gw,
		conn: conn,
		log:  gw.log.With("connection_id", conn.ID),
	}
}

// run blocks until the client disconnects or the socket fails.
func (s *session) run(ctx context.Context) {
	defer s.cleanup(ctx)

	s.conn.ws.SetReadLimit(maxInboundBytes)
	_ = s.conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.ws.SetPongHandler(func(string) error {
		// Heartbeat: a connection that stops answering pings hits the
		// read deadline and is forcibly unregistered.
		return s.conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, payload, err := s.conn.ws.ReadMessage()
		if err != nil {
			s.log.Debug("Connection read ended", "error", err)
			return
		}
		s.dispatch(ctx, payload)
	}
}

func (s *session) dispatch(ctx context.Context, payload []byte) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.sendError(fmt.Errorf("%w: malformed envelope", errors.ErrInvalidPayload))
		return
	}

	var err error
	switch envelope.Event {
	case EventAuthenticate:
		err = s.handleAuthenticate(envelope.Data)
	case EventJoinChat:
		err = s.handleJoin(ctx, envelope.Data)
	case EventSendMessage:
		err = s.handleSend(ctx, envelope.Data)
	case EventMarkRead:
		err = s.handleMarkRead(ctx, envelope.Data)
	case EventTyping:
		err = s.handleTyping(ctx, envelope.Data)
	case EventBlockUser:
		err = s.handleBlock(ctx)
	default:
		err = fmt.Errorf("%w: unknown event %q", errors.ErrInvalidPayload, envelope.Event)
	}
	if err != nil {
		// Errors are terminal for the single operation only; they
		// never crash the connection or the room.
		s.sendError(err)
	}
}

func (s *session) handleAuthenticate(data json.RawMessage) error {
	var payload AuthenticatePayload
	if err := decode(data, &payload); err != nil {
		return err
	}

	claims, err := s.gw.tokens.Validate(payload.Token)
	if err != nil {
		return fmt.Errorf("%w: invalid or expired token", errors.ErrUnauthorized)
	}
	s.userID = claims.UserID
	s.log = s.log.With("user_id", s.userID)
	s.log.Debug("Connection authenticated")
	return nil
}

// handleJoin binds the connection to its room. Registration happens
// with delivery suspended, then backfill is written, then the parked
// live events are flushed: the client can see a duplicate across the
// join race but never a gap.
func (s *session) handleJoin(ctx context.Context, data json.RawMessage) error {
	if s.userID == "" {
		return errors.ErrUnauthorized
	}
	var payload JoinChatPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	if s.userID != payload.BuyerID && s.userID != payload.SellerID {
		return fmt.Errorf("%w: not a party to this chat", errors.ErrForbidden)
	}
	if s.userID == payload.BuyerID {
		verified, err := s.gw.gate.IsVerified(s.userID)
		if err != nil {
			return fmt.Errorf("%w: verification lookup failed", errors.ErrForbidden)
		}
		if !verified {
			return fmt.Errorf("%w: buyer is not verified", errors.ErrForbidden)
		}
	}

	chat, err := s.gw.chatService.OpenChat(payload.ProductID, payload.BuyerID, payload.SellerID)
	if err != nil {
		return err
	}

	if s.joined {
		// Re-join moves this connection to the new room.
		s.gw.registry.Unregister(s.chat.ID, s.conn.ID)
		s.gw.typing.Clear(ctx, s.chat.ID, s.userID)
	}
	s.chat = chat
	s.joined = true

	s.conn.Suspend()
	s.gw.registry.Register(chat.ID, s.conn.ID, s.conn)

	if err := s.backfill(chat, payload.LastSequence); err != nil {
		s.conn.Resume()
		return err
	}
	s.conn.Resume()
	return nil
}

func (s *session) backfill(chat domain.Chat, lastSequence uint64) error {
	lastKnown, err := s.gw.chatService.LastSequence(chat.ID)
	if err != nil {
		return err
	}
	unread, err := s.gw.chatService.UnreadCount(chat.ID, s.userID)
	if err != nil {
		return err
	}

	joined, err := encode(EventJoinedChat, JoinedChatPayload{
		ChatID:       chat.ID.String(),
		LastSequence: lastKnown,
		UnreadCount:  unread,
		BlockedByMe:  chat.HasBlocked(s.userID),
		BlockedMe:    chat.SendBlocked(s.userID),
	})
	if err != nil {
		return err
	}
	if err := s.conn.Enqueue(joined); err != nil {
		return err
	}

	messages, err := s.gw.chatService.Backfill(chat.ID, lastSequence, 0)
	if err != nil {
		return err
	}
	for _, payload := range toMessagePayloads(messages) {
		raw, err := encode(EventReceiveMessage, payload)
		if err != nil {
			return err
		}
		if err := s.conn.Enqueue(raw); err != nil {
			return err
		}
	}
	s.log.Debug("Backfill delivered", "chat_id", chat.ID, "count", len(messages))
	return nil
}

func (s *session) handleSend(ctx context.Context, data json.RawMessage) error {
	if err := s.requireJoined(); err != nil {
		return err
	}
	var payload SendMessagePayload
	if err := decode(data, &payload); err != nil {
		return err
	}

	_, err := s.gw.chatService.Append(ctx, domain.SendMessageCommand{
		ChatID:        s.chat.ID,
		SenderID:      s.userID,
		Body:          payload.Body,
		ImageURL:      payload.ImageURL,
		CorrelationID: payload.CorrelationID,
	})
	return err
}

func (s *session) handleMarkRead(ctx context.Context, data json.RawMessage) error {
	if err := s.requireJoined(); err != nil {
		return err
	}
	var payload MarkReadPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	return s.gw.chatService.MarkRead(ctx, domain.MarkReadCommand{
		ChatID:   s.chat.ID,
		UserID:   s.userID,
		Sequence: payload.Sequence,
	})
}

func (s *session) handleTyping(ctx context.Context, data json.RawMessage) error {
	if err := s.requireJoined(); err != nil {
		return err
	}
	var payload TypingPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	s.gw.typing.SetTyping(ctx, s.chat.ID, s.userID, payload.IsTyping, s.conn.ID)
	return nil
}

func (s *session) handleBlock(ctx context.Context) error {
	if err := s.requireJoined(); err != nil {
		return err
	}
	return s.gw.chatService.Block(ctx, domain.BlockCommand{
		ChatID:  s.chat.ID,
		ActorID: s.userID,
	})
}

func (s *session) requireJoined() error {
	if s.userID == "" {
		return errors.ErrUnauthorized
	}
	if !s.joined {
		return fmt.Errorf("%w: join a chat first", errors.ErrForbidden)
	}
	return nil
}

func (s *session) sendError(err error) {
	payload, encodeErr := encode(EventError, ErrorPayload{
		Code:    errors.CodeOf(err),
		Message: err.Error(),
	})
	if encodeErr != nil {
		return
	}
	_ = s.conn.Enqueue(payload)
}

func (s *session) cleanup(ctx context.Context) {
	if s.joined {
		s.gw.registry.Unregister(s.chat.ID, s.conn.ID)
		s.gw.typing.Clear(ctx, s.chat.ID, s.userID)
	}
	s.conn.Close(websocket.CloseNormalClosure, "bye")
}

func decode(data json.RawMessage, payload any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing event data", errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return nil
}

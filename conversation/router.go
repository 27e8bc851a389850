package conversation

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/linesmerrill/marketplace-chat-api/models"
)

// client -> server events
const (
	EventIdentify    = "identify"
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventMarkRead    = "mark-read"
)

// server -> client events
const (
	EventIdentified          = "identified"
	EventRoomJoined          = "room-joined"
	EventMessageReceived     = "message-received"
	EventMessageNotification = "message-notification"
	EventMessagesRead        = "messages-read"
	EventIdentifyError       = "identify-error"
	EventJoinError           = "join-error"
	EventMessageError        = "message-error"
	EventReadError           = "read-error"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Router validates conversation requests, persists messages and broadcasts
// them to the room of the conversation. It is safe for concurrent use; each
// call runs to completion, including the store write, before it broadcasts.
type Router struct {
	Store       Store
	Broadcaster Broadcaster

	validate *validator.Validate
	sessions *sessionRegistry
	now      func() time.Time
}

// NewRouter creates a router over the given store and broadcaster
func NewRouter(store Store, broadcaster Broadcaster) *Router {
	return &Router{
		Store:       store,
		Broadcaster: broadcaster,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		sessions:    newSessionRegistry(),
		now:         time.Now,
	}
}

func (r *Router) check(req interface{}) error {
	if err := r.validate.Struct(req); err != nil {
		return invalidRequest(err)
	}
	return nil
}

// actingAs rejects requests that claim a different user than the one the
// session identified as. Anonymous sessions carry ids authenticated upstream.
func (r *Router) actingAs(s Session, userID string) error {
	if bound, ok := r.sessions.user(s.ID()); ok && bound != userID {
		return notAuthorized("connection is identified as a different user")
	}
	return nil
}

func (r *Router) fail(s Session, event string, err error, fields ...interface{}) error {
	fields = append(fields, "session", s.ID(), "code", CodeOf(err))
	if CodeOf(err) == CodePersistenceFailure {
		zap.S().Errorw("conversation request failed", append(fields, "error", err)...)
	} else {
		zap.S().Debugw("conversation request rejected", fields...)
	}
	s.Emit(event, ErrorEvent(err))
	return err
}

// Identify binds the session to a user and subscribes it to the user's
// personal room. A session may identify again only as the same user.
func (r *Router) Identify(ctx context.Context, s Session, req models.IdentifyRequest) error {
	if err := r.check(req); err != nil {
		return r.fail(s, EventIdentifyError, err)
	}
	if !r.sessions.bind(s.ID(), req.UserID) {
		return r.fail(s, EventIdentifyError, notAuthorized("connection is already identified as another user"), "user", req.UserID)
	}
	room := PersonalRoom(req.UserID)
	s.Join(room)
	s.Emit(EventIdentified, models.IdentifiedEvent{UserID: req.UserID, Room: room})
	zap.S().Debugw("session identified", "session", s.ID(), "user", req.UserID)
	return nil
}

// authorized loads the transaction and applies Authorize
func (r *Router) authorized(ctx context.Context, transactionID, requester, counterparty string) (*models.Transaction, string, error) {
	txn, err := r.Store.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, "", err
	}
	participantID, err := Authorize(txn, requester, counterparty)
	if err != nil {
		return nil, "", err
	}
	return txn, participantID, nil
}

// JoinRoom subscribes the session to the conversation room of the requester
// and counterparty. Failures leave room membership untouched.
func (r *Router) JoinRoom(ctx context.Context, s Session, req models.RoomRequest) error {
	if err := r.check(req); err != nil {
		return r.fail(s, EventJoinError, err)
	}
	if err := r.actingAs(s, req.RequestingUserID); err != nil {
		return r.fail(s, EventJoinError, err, "transaction", req.TransactionID)
	}
	txn, participantID, err := r.authorized(ctx, req.TransactionID, req.RequestingUserID, req.CounterpartyUserID)
	if err != nil {
		return r.fail(s, EventJoinError, err, "transaction", req.TransactionID)
	}

	// rooms are named after the stored id so every client lands in the same one
	txnID := txn.ID.Hex()
	room := RoomID(txnID, req.RequestingUserID, req.CounterpartyUserID)
	s.Join(room)
	s.Emit(EventRoomJoined, models.RoomJoinedEvent{
		RoomID:        room,
		TransactionID: txnID,
		ParticipantID: participantID,
	})
	zap.S().Debugw("session joined room", "session", s.ID(), "room", room)
	return nil
}

// LeaveRoom unsubscribes the session from a conversation room. Leaving a room
// the session never joined is a no-op. The transaction is not looked up, so
// the id is only normalized to the lower case hex that ObjectID.Hex produces.
func (r *Router) LeaveRoom(ctx context.Context, s Session, req models.RoomRequest) error {
	if err := r.check(req); err != nil {
		return r.fail(s, EventJoinError, err)
	}
	if err := r.actingAs(s, req.RequestingUserID); err != nil {
		return r.fail(s, EventJoinError, err, "transaction", req.TransactionID)
	}
	s.Leave(RoomID(strings.ToLower(req.TransactionID), req.RequestingUserID, req.CounterpartyUserID))
	return nil
}

// SendMessage persists a message under the participant's participation and,
// only once the write is acknowledged, broadcasts it to the room. The
// receiver's personal room gets a lighter notification.
func (r *Router) SendMessage(ctx context.Context, s Session, req models.SendMessageRequest) error {
	if err := r.check(req); err != nil {
		return r.fail(s, EventMessageError, err)
	}
	if err := r.actingAs(s, req.SenderID); err != nil {
		return r.fail(s, EventMessageError, err, "transaction", req.TransactionID)
	}

	txn, err := r.Store.FindTransactionByID(ctx, req.TransactionID)
	if err != nil {
		return r.fail(s, EventMessageError, err, "transaction", req.TransactionID)
	}
	if req.SenderID == txn.CreatorID && txn.Participation(req.ReceiverID) == nil {
		return r.fail(s, EventMessageError, participationNotFound(req.ReceiverID), "transaction", req.TransactionID)
	}
	participantID, err := Authorize(txn, req.SenderID, req.ReceiverID)
	if err != nil {
		return r.fail(s, EventMessageError, err, "transaction", req.TransactionID)
	}

	txnID := txn.ID.Hex()
	msg := models.Message{
		ID:              primitive.NewObjectID(),
		ClientMessageID: req.ClientMessageID,
		SenderID:        req.SenderID,
		ReceiverID:      req.ReceiverID,
		Body:            req.Body,
		Username:        req.Username,
		SentAt:          primitive.NewDateTimeFromTime(r.now()),
	}

	stored, created, err := r.Store.AppendMessage(ctx, txnID, participantID, msg)
	if err != nil {
		return r.fail(s, EventMessageError, err, "transaction", req.TransactionID)
	}

	event := models.NewMessageReceivedEvent(txnID, stored)
	if !created {
		// a retry of a message that is already stored, ack the sender only
		s.Emit(EventMessageReceived, event)
		zap.S().Debugw("duplicate message acknowledged", "session", s.ID(), "message", stored.ID.Hex())
		return nil
	}

	room := RoomID(txnID, req.SenderID, req.ReceiverID)
	r.Broadcaster.BroadcastToRoom(room, EventMessageReceived, event)
	r.Broadcaster.BroadcastToRoom(PersonalRoom(req.ReceiverID), EventMessageNotification, models.MessageNotificationEvent{
		MessageID:     event.MessageID,
		TransactionID: txnID,
		SenderID:      req.SenderID,
		Username:      req.Username,
		SentAt:        event.SentAt,
	})
	zap.S().Debugw("message delivered to room", "session", s.ID(), "room", room, "message", event.MessageID)
	return nil
}

// MarkRead marks the messages addressed to the reader in the conversation as
// read and tells the room.
func (r *Router) MarkRead(ctx context.Context, s Session, req models.MarkReadRequest) error {
	if err := r.check(req); err != nil {
		return r.fail(s, EventReadError, err)
	}
	if err := r.actingAs(s, req.ReaderID); err != nil {
		return r.fail(s, EventReadError, err, "transaction", req.TransactionID)
	}
	txn, participantID, err := r.authorized(ctx, req.TransactionID, req.ReaderID, req.CounterpartyUserID)
	if err != nil {
		return r.fail(s, EventReadError, err, "transaction", req.TransactionID)
	}
	txnID := txn.ID.Hex()
	readAt := r.now()
	if err := r.Store.MarkRead(ctx, txnID, participantID, req.ReaderID); err != nil {
		return r.fail(s, EventReadError, err, "transaction", req.TransactionID)
	}
	r.Broadcaster.BroadcastToRoom(RoomID(txnID, req.ReaderID, req.CounterpartyUserID), EventMessagesRead, models.MessagesReadEvent{
		TransactionID: txnID,
		ReaderID:      req.ReaderID,
		ReadAt:        int64(primitive.NewDateTimeFromTime(readAt)),
	})
	return nil
}

// History returns a page of the conversation between requester and
// counterparty. Clients use it to catch up after a reconnect since the router
// keeps no per-session replay state. Page numbers start at zero.
func (r *Router) History(ctx context.Context, req models.RoomRequest, page, limit int) (*models.MessagePage, error) {
	if err := r.check(req); err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	// past this page the skip would overflow
	if maxPage := math.MaxInt32 / limit; page > maxPage {
		page = maxPage
	}
	txn, participantID, err := r.authorized(ctx, req.TransactionID, req.RequestingUserID, req.CounterpartyUserID)
	if err != nil {
		return nil, err
	}
	msgs, total, err := r.Store.Messages(ctx, txn.ID.Hex(), participantID, page*limit, limit)
	if err != nil {
		return nil, err
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &models.MessagePage{
		Data:       msgs,
		Page:       page,
		Limit:      limit,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// Disconnect forgets the session. The transport drops its room
// subscriptions; clients must identify and join again after reconnecting.
func (r *Router) Disconnect(s Session) {
	r.sessions.drop(s.ID())
}

// Stats reports identified sessions and the distinct users behind them
func (r *Router) Stats() (sessions, users int) {
	return r.sessions.stats()
}

package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/linesmerrill/marketplace-chat-api/api"
	"github.com/linesmerrill/marketplace-chat-api/conversation"
	"github.com/linesmerrill/marketplace-chat-api/models"
)

const (
	transportSocketIO  = "socketio"
	transportWebSocket = "websocket"
)

// inboundEvents are the client events both transports accept
var inboundEvents = []string{
	conversation.EventIdentify,
	conversation.EventJoinRoom,
	conversation.EventLeaveRoom,
	conversation.EventSendMessage,
	conversation.EventMarkRead,
}

// errorEventFor names the event a failed request is answered with
var errorEventFor = map[string]string{
	conversation.EventIdentify:    conversation.EventIdentifyError,
	conversation.EventJoinRoom:    conversation.EventJoinError,
	conversation.EventLeaveRoom:   conversation.EventJoinError,
	conversation.EventSendMessage: conversation.EventMessageError,
	conversation.EventMarkRead:    conversation.EventReadError,
}

// dispatcher turns raw client events into router calls. Payloads are decoded
// here rather than by the transport so a malformed one is answered with an
// error event and the connection stays up.
type dispatcher struct {
	transport    string
	router       *conversation.Router
	queryTimeout time.Duration
}

func (d dispatcher) dispatch(s conversation.Session, event string, raw json.RawMessage) {
	router := d.router
	var run func(ctx context.Context) error

	switch event {
	case conversation.EventIdentify:
		var req models.IdentifyRequest
		if d.decode(s, event, raw, &req) {
			run = func(ctx context.Context) error { return router.Identify(ctx, s, req) }
		}
	case conversation.EventJoinRoom:
		var req models.RoomRequest
		if d.decode(s, event, raw, &req) {
			run = func(ctx context.Context) error { return router.JoinRoom(ctx, s, req) }
		}
	case conversation.EventLeaveRoom:
		var req models.RoomRequest
		if d.decode(s, event, raw, &req) {
			run = func(ctx context.Context) error { return router.LeaveRoom(ctx, s, req) }
		}
	case conversation.EventSendMessage:
		var req models.SendMessageRequest
		if d.decode(s, event, raw, &req) {
			run = func(ctx context.Context) error { return router.SendMessage(ctx, s, req) }
		}
	case conversation.EventMarkRead:
		var req models.MarkReadRequest
		if d.decode(s, event, raw, &req) {
			run = func(ctx context.Context) error { return router.MarkRead(ctx, s, req) }
		}
	default:
		s.Emit("error", models.ErrorEvent{Code: string(conversation.CodeInvalidRequest), Reason: "unknown event " + event})
		return
	}

	if run != nil {
		handleEvent(d.transport, event, d.queryTimeout, run)
	}
}

// decode unmarshals the event data into v, answering the client with the
// event's error event when it does not fit
func (d dispatcher) decode(s conversation.Session, event string, raw json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		s.Emit(errorEventFor[event], models.ErrorEvent{
			Code:   string(conversation.CodeInvalidRequest),
			Reason: "malformed request",
		})
		api.EventsHandled.WithLabelValues(d.transport, event, string(conversation.CodeInvalidRequest)).Inc()
		return false
	}
	return true
}

// handleEvent runs one inbound event to completion under the query timeout
// and records its outcome. Errors have already been reported to the client
// by the router, so they stop here.
func handleEvent(transport, event string, timeout time.Duration, fn func(ctx context.Context) error) {
	start := time.Now()
	ctx, cancel := api.WithQueryTimeout(context.Background(), timeout)
	defer cancel()

	outcome := "ok"
	if err := fn(ctx); err != nil {
		outcome = string(conversation.CodeOf(err))
	}
	api.EventsHandled.WithLabelValues(transport, event, outcome).Inc()
	api.EventDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
}

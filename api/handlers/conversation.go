package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/linesmerrill/marketplace-chat-api/api"
	"github.com/linesmerrill/marketplace-chat-api/config"
	"github.com/linesmerrill/marketplace-chat-api/conversation"
	"github.com/linesmerrill/marketplace-chat-api/models"
)

// Conversation exported for testing purposes
type Conversation struct {
	Router       *conversation.Router
	QueryTimeout time.Duration
}

// MessagesHandler returns paginated chat history between the requester and
// the counterparty on a transaction
func (c Conversation) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	q := r.URL.Query()
	req := models.RoomRequest{
		TransactionID:      mux.Vars(r)["transaction_id"],
		RequestingUserID:   q.Get("requesterId"),
		CounterpartyUserID: q.Get("counterpartyId"),
	}
	Limit := getQueryInt(r, "limit", 50)
	Page := getQueryInt(r, "page", 0)

	ctx, cancel := api.WithQueryTimeout(r.Context(), c.QueryTimeout)
	defer cancel()

	page, err := c.Router.History(ctx, req, Page, Limit)
	if err != nil {
		ev := conversation.ErrorEvent(err)
		if ev.Code == string(conversation.CodePersistenceFailure) {
			zap.S().Errorw("failed to load conversation history", "transaction", req.TransactionID, "error", err)
		}
		config.ErrorStatus("failed to get messages", statusFor(conversation.CodeOf(err)), w, fmt.Errorf("%s: %s", ev.Code, ev.Reason))
		return
	}

	b, err := json.Marshal(page)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func statusFor(code conversation.Code) int {
	switch code {
	case conversation.CodeInvalidRequest:
		return http.StatusBadRequest
	case conversation.CodeNotAuthorized:
		return http.StatusForbidden
	case conversation.CodeTransactionNotFound, conversation.CodeParticipationNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func getQueryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		zap.S().Debugw("ignoring invalid query parameter", "key", key, "value", raw)
		return def
	}
	return v
}

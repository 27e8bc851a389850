// Package docs Marketplace Chat API.
//
// Documentation of the Marketplace Chat API. Realtime traffic uses Socket.IO
// at /socket.io/ or a plain websocket at /ws/conversations; the REST routes
// below serve health checks and conversation history.
//
//     Schemes: https
//     BasePath: /
//     Version: 1.0.0
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
// swagger:meta
package docs

import (
	"github.com/linesmerrill/marketplace-chat-api/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api. true means it is alive, false means it is not.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route GET /api/v1/transaction/{transaction_id}/messages conversation messagesByTransaction
// Gets one page of the conversation between the requester and the counterparty
// on a transaction, oldest message first.
// responses:
//   200: messagesResponse
//   400: errorResponse
//   403: errorResponse
//   404: errorResponse

// swagger:parameters messagesByTransaction
type messagesParams struct {
	// in:path
	// required: true
	TransactionID string `json:"transaction_id"`
	// in:query
	// required: true
	RequesterID string `json:"requesterId"`
	// in:query
	// required: true
	CounterpartyID string `json:"counterpartyId"`
	// in:query
	Page int `json:"page"`
	// in:query
	Limit int `json:"limit"`
}

// A page of chat messages
// swagger:response messagesResponse
type messagesResponseWrapper struct {
	// in:body
	Body models.MessagePage
}

// Failure with a short description
// swagger:response errorResponse
type errorResponseWrapper struct {
	// in:body
	Body struct {
		Response string `json:"response"`
	}
}

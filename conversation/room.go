// Package conversation routes chat between the creator of a transaction and
// each of its accepted participants.
//
// A conversation lives in a room named after the transaction and the two
// users. Messages are appended to the participant's participation entry on
// the transaction document and then broadcast to the room.
package conversation

import (
	"strings"

	"github.com/linesmerrill/marketplace-chat-api/models"
)

const (
	chatRoomPrefix     = "chat:"
	personalRoomPrefix = "user:"
	roomSeparator      = ":"
)

// RoomID returns the room for the conversation between a and b on a
// transaction. The result does not depend on the order of a and b. Ids must
// not contain ":", which request validation enforces.
func RoomID(transactionID, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return chatRoomPrefix + strings.Join([]string{transactionID, a, b}, roomSeparator)
}

// PersonalRoom is the room every connection of a user joins on identify
func PersonalRoom(userID string) string {
	return personalRoomPrefix + userID
}

// Authorize checks that requester may talk to counterparty on txn and returns
// the id of the participant side of the pair. The creator may talk to any
// listed participant; a participant may only talk to the creator.
func Authorize(txn *models.Transaction, requester, counterparty string) (string, error) {
	if requester == counterparty {
		return "", notAuthorized("cannot open a conversation with yourself")
	}
	switch {
	case requester == txn.CreatorID:
		if txn.Participation(counterparty) == nil {
			return "", notAuthorized("counterparty is not a participant on this transaction")
		}
		return counterparty, nil
	case txn.Participation(requester) != nil:
		if counterparty != txn.CreatorID {
			return "", notAuthorized("participants may only talk to the transaction creator")
		}
		return requester, nil
	default:
		return "", notAuthorized("requester is not part of this transaction")
	}
}

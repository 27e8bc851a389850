package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// TransactionKind is either a product being delivered or an order being fulfilled
type TransactionKind string

// transaction kinds
const (
	KindProduct TransactionKind = "product"
	KindOrder   TransactionKind = "order"
)

// ParticipationStatus is the lifecycle of a participant on a transaction
type ParticipationStatus string

// participation statuses
const (
	StatusAccepted  ParticipationStatus = "accepted"
	StatusInTransit ParticipationStatus = "in-transit"
	StatusDelivered ParticipationStatus = "delivered"
	StatusCancelled ParticipationStatus = "cancelled"
)

// Transaction holds the structure for the transactions collection in mongo
type Transaction struct {
	ID             primitive.ObjectID `json:"_id" bson:"_id"`
	Kind           TransactionKind    `json:"kind" bson:"kind"`
	CreatorID      string             `json:"creatorId" bson:"creatorId"`
	Participations []Participation    `json:"participations" bson:"participations"`
	CreatedAt      primitive.DateTime `json:"createdAt" bson:"createdAt"`
}

// Participation is one accepted counterparty on a transaction. Its Messages
// hold the whole conversation between the creator and this participant.
type Participation struct {
	ParticipantID string              `json:"participantId" bson:"participantId"`
	Status        ParticipationStatus `json:"status" bson:"status"`
	Messages      []Message           `json:"messages" bson:"messages"`
}

// Participation returns the entry for participantID, or nil
func (t *Transaction) Participation(participantID string) *Participation {
	for i := range t.Participations {
		if t.Participations[i].ParticipantID == participantID {
			return &t.Participations[i]
		}
	}
	return nil
}

// Message is a single chat line stored under a participation
type Message struct {
	ID              primitive.ObjectID `json:"_id" bson:"_id"`
	ClientMessageID string             `json:"clientMessageId,omitempty" bson:"clientMessageId,omitempty"`
	SenderID        string             `json:"senderId" bson:"senderId"`
	ReceiverID      string             `json:"receiverId" bson:"receiverId"`
	Body            string             `json:"body" bson:"body"`
	Username        string             `json:"username" bson:"username"`
	SentAt          primitive.DateTime `json:"sentAt" bson:"sentAt"`
	Delivered       bool               `json:"delivered" bson:"delivered"`
	Read            bool               `json:"read" bson:"read"`
}

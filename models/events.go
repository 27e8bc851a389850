package models

// IdentifyRequest is sent by a client to bind its connection to a user
type IdentifyRequest struct {
	UserID string `json:"userId" validate:"required,excludes=:"`
}

// RoomRequest is the payload of join-room and leave-room
type RoomRequest struct {
	TransactionID      string `json:"transactionId" validate:"required,hexadecimal,len=24"`
	RequestingUserID   string `json:"requestingUserId" validate:"required,excludes=:"`
	CounterpartyUserID string `json:"counterpartyUserId" validate:"required,excludes=:,nefield=RequestingUserID"`
}

// SendMessageRequest is the payload of send-message
type SendMessageRequest struct {
	TransactionID   string `json:"transactionId" validate:"required,hexadecimal,len=24"`
	SenderID        string `json:"senderId" validate:"required,excludes=:"`
	ReceiverID      string `json:"receiverId" validate:"required,excludes=:,nefield=SenderID"`
	Body            string `json:"body" validate:"required,max=4000"`
	Username        string `json:"username" validate:"max=100"`
	ClientMessageID string `json:"clientMessageId,omitempty" validate:"omitempty,max=64"`
}

// MarkReadRequest is the payload of mark-read
type MarkReadRequest struct {
	TransactionID      string `json:"transactionId" validate:"required,hexadecimal,len=24"`
	ReaderID           string `json:"readerId" validate:"required,excludes=:"`
	CounterpartyUserID string `json:"counterpartyUserId" validate:"required,excludes=:,nefield=ReaderID"`
}

// IdentifiedEvent confirms an identify request
type IdentifiedEvent struct {
	UserID string `json:"userId"`
	Room   string `json:"room"`
}

// RoomJoinedEvent confirms a join-room request
type RoomJoinedEvent struct {
	RoomID        string `json:"roomId"`
	TransactionID string `json:"transactionId"`
	ParticipantID string `json:"participantId"`
}

// MessageReceivedEvent is broadcast to a room once a message is persisted
type MessageReceivedEvent struct {
	MessageID       string `json:"messageId"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	TransactionID   string `json:"transactionId"`
	SenderID        string `json:"senderId"`
	ReceiverID      string `json:"receiverId"`
	Body            string `json:"body"`
	Username        string `json:"username"`
	SentAt          int64  `json:"sentAt"`
}

// MessageNotificationEvent goes to the receiver's personal room so clients
// that have not joined the conversation still learn about new messages
type MessageNotificationEvent struct {
	MessageID     string `json:"messageId"`
	TransactionID string `json:"transactionId"`
	SenderID      string `json:"senderId"`
	Username      string `json:"username"`
	SentAt        int64  `json:"sentAt"`
}

// MessagesReadEvent is broadcast to a room after a mark-read
type MessagesReadEvent struct {
	TransactionID string `json:"transactionId"`
	ReaderID      string `json:"readerId"`
	ReadAt        int64  `json:"readAt"`
}

// ErrorEvent is delivered only to the connection whose request failed
type ErrorEvent struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// NewMessageReceivedEvent builds the broadcast payload for a stored message
func NewMessageReceivedEvent(transactionID string, m Message) MessageReceivedEvent {
	return MessageReceivedEvent{
		MessageID:       m.ID.Hex(),
		ClientMessageID: m.ClientMessageID,
		TransactionID:   transactionID,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Body:            m.Body,
		Username:        m.Username,
		SentAt:          int64(m.SentAt),
	}
}

package conversation

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/linesmerrill/marketplace-chat-api/models"
)

type emitted struct {
	event   string
	payload interface{}
}

// fakeHub is an in-memory transport: sessions join rooms on it and
// broadcasts reach every joined session
type fakeHub struct {
	mu    sync.Mutex
	rooms map[string]map[*fakeSession]struct{}
}

func newFakeHub() *fakeHub {
	return &fakeHub{rooms: make(map[string]map[*fakeSession]struct{})}
}

func (h *fakeHub) BroadcastToRoom(room, event string, payload interface{}) {
	h.mu.Lock()
	members := make([]*fakeSession, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		members = append(members, s)
	}
	h.mu.Unlock()
	for _, s := range members {
		s.Emit(event, payload)
	}
}

func (h *fakeHub) members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

type fakeSession struct {
	id  string
	hub *fakeHub

	mu     sync.Mutex
	events []emitted
}

func (h *fakeHub) session(id string) *fakeSession {
	return &fakeSession{id: id, hub: h}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Join(room string) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.hub.rooms[room] == nil {
		s.hub.rooms[room] = make(map[*fakeSession]struct{})
	}
	s.hub.rooms[room][s] = struct{}{}
}

func (s *fakeSession) Leave(room string) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.rooms[room], s)
}

func (s *fakeSession) Emit(event string, payload interface{}) {
	s.mu.Lock()
	s.events = append(s.events, emitted{event: event, payload: payload})
	s.mu.Unlock()
}

func (s *fakeSession) received(event string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interface{}
	for _, e := range s.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

// memoryStore keeps transactions in a map and applies the same matching
// rules as the mongo queries
type memoryStore struct {
	mu      sync.Mutex
	txns    map[string]*models.Transaction
	failing error
	writes  int
}

func newMemoryStore(txns ...*models.Transaction) *memoryStore {
	m := &memoryStore{txns: make(map[string]*models.Transaction)}
	for _, t := range txns {
		m.txns[t.ID.Hex()] = t
	}
	return m
}

func (m *memoryStore) FindTransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// ObjectIDFromHex accepts either case
	txn, ok := m.txns[strings.ToLower(id)]
	if !ok {
		return nil, transactionNotFound(id)
	}
	cp := *txn
	cp.Participations = append([]models.Participation(nil), txn.Participations...)
	return &cp, nil
}

func (m *memoryStore) AppendMessage(ctx context.Context, id, participantID string, msg models.Message) (models.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return msg, false, persistenceFailure(m.failing)
	}
	txn, ok := m.txns[id]
	if !ok {
		return msg, false, transactionNotFound(id)
	}
	p := txn.Participation(participantID)
	if p == nil {
		return msg, false, participationNotFound(participantID)
	}
	if msg.ClientMessageID != "" {
		for _, existing := range p.Messages {
			if existing.ClientMessageID == msg.ClientMessageID {
				return existing, false, nil
			}
		}
	}
	p.Messages = append(p.Messages, msg)
	m.writes++
	return msg, true, nil
}

func (m *memoryStore) MarkRead(ctx context.Context, id, participantID, readerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.txns[id].Participation(participantID)
	if p == nil {
		return participationNotFound(participantID)
	}
	for i := range p.Messages {
		if p.Messages[i].ReceiverID == readerID {
			p.Messages[i].Read = true
			p.Messages[i].Delivered = true
		}
	}
	return nil
}

func (m *memoryStore) Messages(ctx context.Context, id, participantID string, skip, limit int) ([]models.Message, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.txns[id].Participation(participantID)
	if p == nil {
		return nil, 0, participationNotFound(participantID)
	}
	total := len(p.Messages)
	if skip > total {
		skip = total
	}
	end := skip + limit
	if end > total {
		end = total
	}
	return append([]models.Message{}, p.Messages[skip:end]...), int64(total), nil
}

func (m *memoryStore) messages(id, participantID string) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.txns[id].Participation(participantID)
	if p == nil {
		return nil
	}
	return append([]models.Message(nil), p.Messages...)
}

func setup(t *testing.T) (*Router, *memoryStore, *fakeHub, string) {
	t.Helper()
	txn := testTransaction()
	store := newMemoryStore(txn)
	hub := newFakeHub()
	r := NewRouter(store, hub)
	r.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r, store, hub, txn.ID.Hex()
}

func join(t *testing.T, r *Router, s Session, txnID, requester, counterparty string) error {
	t.Helper()
	return r.JoinRoom(context.Background(), s, models.RoomRequest{
		TransactionID:      txnID,
		RequestingUserID:   requester,
		CounterpartyUserID: counterparty,
	})
}

func TestRouter_CreatorAndParticipantShareRoom(t *testing.T) {
	r, store, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	participant := hub.session("s-u2")

	require.NoError(t, join(t, r, creator, txnID, "u1", "u2"))
	require.NoError(t, join(t, r, participant, txnID, "u2", "u1"))

	joinedA := creator.received(EventRoomJoined)[0].(models.RoomJoinedEvent)
	joinedB := participant.received(EventRoomJoined)[0].(models.RoomJoinedEvent)
	assert.Equal(t, joinedA.RoomID, joinedB.RoomID)
	assert.Equal(t, "u2", joinedA.ParticipantID)
	room := joinedA.RoomID
	assert.Equal(t, 2, hub.members(room))

	err := r.SendMessage(context.Background(), creator, models.SendMessageRequest{
		TransactionID: txnID,
		SenderID:      "u1",
		ReceiverID:    "u2",
		Body:          "hello",
		Username:      "alice",
	})
	require.NoError(t, err)

	stored := store.messages(txnID, "u2")
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Body)
	assert.False(t, stored[0].ID.IsZero())
	assert.Empty(t, store.messages(txnID, "u4"))

	for _, s := range []*fakeSession{creator, participant} {
		got := s.received(EventMessageReceived)
		require.Len(t, got, 1)
		ev := got[0].(models.MessageReceivedEvent)
		assert.Equal(t, stored[0].ID.Hex(), ev.MessageID)
		assert.Equal(t, txnID, ev.TransactionID)
		assert.Equal(t, "u1", ev.SenderID)
		assert.Equal(t, "u2", ev.ReceiverID)
		assert.Equal(t, "alice", ev.Username)
		assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli(), ev.SentAt)
	}
}

func TestRouter_ParticipantMessageStoredUnderParticipant(t *testing.T) {
	r, store, hub, txnID := setup(t)
	participant := hub.session("s-u2")

	err := r.SendMessage(context.Background(), participant, models.SendMessageRequest{
		TransactionID: txnID,
		SenderID:      "u2",
		ReceiverID:    "u1",
		Body:          "on my way",
	})
	require.NoError(t, err)
	require.Len(t, store.messages(txnID, "u2"), 1)
	assert.Equal(t, "u2", store.messages(txnID, "u2")[0].SenderID)
}

func TestRouter_StrangerCannotJoin(t *testing.T) {
	r, _, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	require.NoError(t, join(t, r, creator, txnID, "u1", "u2"))
	room := RoomID(txnID, "u1", "u2")

	stranger := hub.session("s-u3")
	err := join(t, r, stranger, txnID, "u3", "u2")
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))
	assert.Equal(t, 1, hub.members(room))

	errs := stranger.received(EventJoinError)
	require.Len(t, errs, 1)
	assert.Equal(t, "NotAuthorized", errs[0].(models.ErrorEvent).Code)
	assert.Empty(t, creator.received(EventJoinError))
}

func TestRouter_NoParticipantToParticipantRoom(t *testing.T) {
	r, _, hub, txnID := setup(t)
	s := hub.session("s-u2")

	err := join(t, r, s, txnID, "u2", "u4")
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))
	assert.Equal(t, 0, hub.members(RoomID(txnID, "u2", "u4")))
	assert.Empty(t, s.received(EventRoomJoined))
}

func TestRouter_UnknownTransaction(t *testing.T) {
	r, _, hub, _ := setup(t)
	s := hub.session("s-u1")

	err := join(t, r, s, primitive.NewObjectID().Hex(), "u1", "u2")
	assert.Equal(t, CodeTransactionNotFound, CodeOf(err))
	assert.Len(t, s.received(EventJoinError), 1)
}

func TestRouter_MalformedRequest(t *testing.T) {
	r, store, hub, txnID := setup(t)
	s := hub.session("s-u1")

	err := join(t, r, s, "nope", "u1", "u2")
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))

	err = r.SendMessage(context.Background(), s, models.SendMessageRequest{TransactionID: txnID, SenderID: "u1", ReceiverID: "u2"})
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))

	err = join(t, r, s, txnID, "u1:x", "u2")
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))
	assert.Zero(t, store.writes)
}

func TestRouter_SendToMissingParticipationDoesNotBroadcast(t *testing.T) {
	r, store, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	require.NoError(t, join(t, r, creator, txnID, "u1", "u2"))

	err := r.SendMessage(context.Background(), creator, models.SendMessageRequest{
		TransactionID: txnID,
		SenderID:      "u1",
		ReceiverID:    "u9",
		Body:          "anyone?",
	})
	assert.Equal(t, CodeParticipationNotFound, CodeOf(err))
	assert.Zero(t, store.writes)
	assert.Empty(t, creator.received(EventMessageReceived))
	assert.Len(t, creator.received(EventMessageError), 1)
}

func TestRouter_FailedPersistDoesNotBroadcast(t *testing.T) {
	r, store, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	participant := hub.session("s-u2")
	require.NoError(t, join(t, r, creator, txnID, "u1", "u2"))
	require.NoError(t, join(t, r, participant, txnID, "u2", "u1"))
	store.failing = errors.New("connection reset")

	err := r.SendMessage(context.Background(), creator, models.SendMessageRequest{
		TransactionID: txnID, SenderID: "u1", ReceiverID: "u2", Body: "hello",
	})
	assert.Equal(t, CodePersistenceFailure, CodeOf(err))
	assert.Empty(t, participant.received(EventMessageReceived))
	assert.Empty(t, participant.received(EventMessageError))

	errs := creator.received(EventMessageError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.ErrorEvent{Code: "PersistenceFailure", Reason: "internal server error"}, errs[0])
}

func TestRouter_IdentifyAndMultiDeviceFanOut(t *testing.T) {
	r, _, hub, txnID := setup(t)
	phone := hub.session("s-u2-phone")
	tablet := hub.session("s-u2-tablet")
	creator := hub.session("s-u1")

	for _, s := range []*fakeSession{phone, tablet} {
		require.NoError(t, r.Identify(context.Background(), s, models.IdentifyRequest{UserID: "u2"}))
		require.NoError(t, join(t, r, s, txnID, "u2", "u1"))
	}
	require.NoError(t, join(t, r, creator, txnID, "u1", "u2"))

	sessions, users := r.Stats()
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 1, users)

	require.NoError(t, r.SendMessage(context.Background(), phone, models.SendMessageRequest{
		TransactionID: txnID, SenderID: "u2", ReceiverID: "u1", Body: "picked up",
	}))

	assert.Len(t, phone.received(EventMessageReceived), 1)
	assert.Len(t, tablet.received(EventMessageReceived), 1)
	assert.Len(t, creator.received(EventMessageReceived), 1)
	// the notification goes to the receiver's personal room only
	assert.Empty(t, phone.received(EventMessageNotification))
}

func TestRouter_ReceiverPersonalRoomGetsNotification(t *testing.T) {
	r, _, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	participant := hub.session("s-u2")
	require.NoError(t, r.Identify(context.Background(), participant, models.IdentifyRequest{UserID: "u2"}))

	require.NoError(t, r.SendMessage(context.Background(), creator, models.SendMessageRequest{
		TransactionID: txnID, SenderID: "u1", ReceiverID: "u2", Body: "are you close?", Username: "alice",
	}))

	notes := participant.received(EventMessageNotification)
	require.Len(t, notes, 1)
	assert.Equal(t, "u1", notes[0].(models.MessageNotificationEvent).SenderID)
	assert.Empty(t, participant.received(EventMessageReceived))
}

func TestRouter_IdentifiedSessionCannotActAsSomeoneElse(t *testing.T) {
	r, store, hub, txnID := setup(t)
	s := hub.session("s-u2")
	require.NoError(t, r.Identify(context.Background(), s, models.IdentifyRequest{UserID: "u2"}))

	err := r.Identify(context.Background(), s, models.IdentifyRequest{UserID: "u1"})
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))

	err = join(t, r, s, txnID, "u1", "u2")
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))

	err = r.SendMessage(context.Background(), s, models.SendMessageRequest{
		TransactionID: txnID, SenderID: "u1", ReceiverID: "u2", Body: "spoof",
	})
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))
	assert.Zero(t, store.writes)

	r.Disconnect(s)
	sessions, _ := r.Stats()
	assert.Zero(t, sessions)
	assert.NoError(t, join(t, r, s, txnID, "u1", "u2"))
}

func TestRouter_RetriedMessageIsNotDuplicated(t *testing.T) {
	r, store, hub, txnID := setup(t)
	sender := hub.session("s-u2")
	creator := hub.session("s-u1")
	require.NoError(t, join(t, r, sender, txnID, "u2", "u1"))
	require.NoError(t, join(t, r, creator, txnID, "u1", "u2"))

	req := models.SendMessageRequest{
		TransactionID: txnID, SenderID: "u2", ReceiverID: "u1", Body: "delivered", ClientMessageID: "c-42",
	}
	require.NoError(t, r.SendMessage(context.Background(), sender, req))
	require.NoError(t, r.SendMessage(context.Background(), sender, req))

	assert.Len(t, store.messages(txnID, "u2"), 1)
	assert.Len(t, creator.received(EventMessageReceived), 1)
	acks := sender.received(EventMessageReceived)
	require.Len(t, acks, 2)
	assert.Equal(t, acks[0].(models.MessageReceivedEvent).MessageID, acks[1].(models.MessageReceivedEvent).MessageID)
}

func TestRouter_ConcurrentSendsFromBothSides(t *testing.T) {
	r, store, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	participant := hub.session("s-u2")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.SendMessage(context.Background(), creator, models.SendMessageRequest{
				TransactionID: txnID, SenderID: "u1", ReceiverID: "u2", Body: "c",
			})
		}()
		go func() {
			defer wg.Done()
			_ = r.SendMessage(context.Background(), participant, models.SendMessageRequest{
				TransactionID: txnID, SenderID: "u2", ReceiverID: "u1", Body: "p",
			})
		}()
	}
	wg.Wait()
	assert.Len(t, store.messages(txnID, "u2"), 40)
}

func TestRouter_LeaveRoom(t *testing.T) {
	r, _, hub, txnID := setup(t)
	s := hub.session("s-u1")
	require.NoError(t, join(t, r, s, txnID, "u1", "u2"))

	require.NoError(t, r.LeaveRoom(context.Background(), s, models.RoomRequest{
		TransactionID: txnID, RequestingUserID: "u1", CounterpartyUserID: "u2",
	}))
	assert.Equal(t, 0, hub.members(RoomID(txnID, "u1", "u2")))
}

func TestRouter_MarkRead(t *testing.T) {
	r, store, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	participant := hub.session("s-u2")
	require.NoError(t, join(t, r, creator, txnID, "u1", "u2"))

	require.NoError(t, r.SendMessage(context.Background(), creator, models.SendMessageRequest{
		TransactionID: txnID, SenderID: "u1", ReceiverID: "u2", Body: "ping",
	}))
	require.NoError(t, r.MarkRead(context.Background(), participant, models.MarkReadRequest{
		TransactionID: txnID, ReaderID: "u2", CounterpartyUserID: "u1",
	}))

	assert.True(t, store.messages(txnID, "u2")[0].Read)
	reads := creator.received(EventMessagesRead)
	require.Len(t, reads, 1)
	assert.Equal(t, "u2", reads[0].(models.MessagesReadEvent).ReaderID)

	err := r.MarkRead(context.Background(), participant, models.MarkReadRequest{
		TransactionID: txnID, ReaderID: "u2", CounterpartyUserID: "u4",
	})
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))
	assert.Len(t, participant.received(EventReadError), 1)
}

func TestRouter_History(t *testing.T) {
	r, _, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	for _, body := range []string{"one", "two", "three"} {
		require.NoError(t, r.SendMessage(context.Background(), creator, models.SendMessageRequest{
			TransactionID: txnID, SenderID: "u1", ReceiverID: "u2", Body: body,
		}))
	}

	page, err := r.History(context.Background(), models.RoomRequest{
		TransactionID: txnID, RequestingUserID: "u2", CounterpartyUserID: "u1",
	}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "three", page.Data[0].Body)

	_, err = r.History(context.Background(), models.RoomRequest{
		TransactionID: txnID, RequestingUserID: "u3", CounterpartyUserID: "u1",
	}, 0, 10)
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))
}

func TestRouter_HistoryPageBeyondEnd(t *testing.T) {
	r, _, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	require.NoError(t, r.SendMessage(context.Background(), creator, models.SendMessageRequest{
		TransactionID: txnID, SenderID: "u1", ReceiverID: "u2", Body: "only",
	}))

	for _, pg := range []int{5, math.MaxInt / 100, (1<<62)/100 + 1} {
		page, err := r.History(context.Background(), models.RoomRequest{
			TransactionID: txnID, RequestingUserID: "u2", CounterpartyUserID: "u1",
		}, pg, 200)
		require.NoError(t, err)
		assert.Empty(t, page.Data, "page %d", pg)
		assert.Equal(t, int64(1), page.TotalCount)
	}
}

func TestRouter_MixedCaseTransactionIDSharesRoom(t *testing.T) {
	r, store, hub, txnID := setup(t)
	creator := hub.session("s-u1")
	participant := hub.session("s-u2")

	require.NoError(t, join(t, r, creator, strings.ToUpper(txnID), "u1", "u2"))
	require.NoError(t, join(t, r, participant, txnID, "u2", "u1"))
	assert.Equal(t, 2, hub.members(RoomID(txnID, "u1", "u2")))

	require.NoError(t, r.SendMessage(context.Background(), creator, models.SendMessageRequest{
		TransactionID: strings.ToUpper(txnID), SenderID: "u1", ReceiverID: "u2", Body: "hello",
	}))
	assert.Len(t, store.messages(txnID, "u2"), 1)
	got := participant.received(EventMessageReceived)
	require.Len(t, got, 1)
	assert.Equal(t, txnID, got[0].(models.MessageReceivedEvent).TransactionID)

	require.NoError(t, r.LeaveRoom(context.Background(), creator, models.RoomRequest{
		TransactionID: strings.ToUpper(txnID), RequestingUserID: "u1", CounterpartyUserID: "u2",
	}))
	assert.Equal(t, 1, hub.members(RoomID(txnID, "u1", "u2")))
}

func TestRouter_LeaveRoomAsSomeoneElse(t *testing.T) {
	r, _, hub, txnID := setup(t)
	s := hub.session("s-u1")
	require.NoError(t, r.Identify(context.Background(), s, models.IdentifyRequest{UserID: "u1"}))
	require.NoError(t, join(t, r, s, txnID, "u1", "u2"))

	err := r.LeaveRoom(context.Background(), s, models.RoomRequest{
		TransactionID: txnID, RequestingUserID: "u2", CounterpartyUserID: "u1",
	})
	assert.Equal(t, CodeNotAuthorized, CodeOf(err))
	assert.Equal(t, 1, hub.members(RoomID(txnID, "u1", "u2")))
	assert.Len(t, s.received(EventJoinError), 1)
}

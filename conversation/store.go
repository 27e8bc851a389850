package conversation

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/marketplace-chat-api/databases"
	"github.com/linesmerrill/marketplace-chat-api/models"
)

// Store is the persistence the router needs. Implementations return *Error
// values so the router can report them without translation.
type Store interface {
	FindTransactionByID(ctx context.Context, transactionID string) (*models.Transaction, error)
	// AppendMessage pushes msg onto the participation of participantID. When
	// msg carries a ClientMessageID that is already stored, nothing is written
	// and the stored message is returned with created=false.
	AppendMessage(ctx context.Context, transactionID, participantID string, msg models.Message) (stored models.Message, created bool, err error)
	MarkRead(ctx context.Context, transactionID, participantID, readerID string) error
	Messages(ctx context.Context, transactionID, participantID string, skip, limit int) ([]models.Message, int64, error)
}

// MongoStore implements Store on the transactions collection
type MongoStore struct {
	DB databases.TransactionDatabase
}

// NewMongoStore returns a Store backed by db
func NewMongoStore(db databases.TransactionDatabase) *MongoStore {
	return &MongoStore{DB: db}
}

func objectID(transactionID string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(transactionID)
	if err != nil {
		return oid, invalidRequest(errors.Wrap(err, "transactionId"))
	}
	return oid, nil
}

// FindTransactionByID loads the whole transaction document
func (m *MongoStore) FindTransactionByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	oid, err := objectID(transactionID)
	if err != nil {
		return nil, err
	}
	txn, err := m.DB.FindOne(ctx, bson.M{"_id": oid})
	if errors.Is(err, databases.ErrNotFound) {
		return nil, transactionNotFound(transactionID)
	}
	if err != nil {
		return nil, persistenceFailure(err)
	}
	return txn, nil
}

// AppendMessage pushes to participations.$.messages of the entry matched by
// participant id. The array is never rewritten as a whole, so concurrent
// appends to any participation are independent pushes.
func (m *MongoStore) AppendMessage(ctx context.Context, transactionID, participantID string, msg models.Message) (models.Message, bool, error) {
	oid, err := objectID(transactionID)
	if err != nil {
		return msg, false, err
	}

	elem := bson.M{"participantId": participantID}
	if msg.ClientMessageID != "" {
		elem["messages.clientMessageId"] = bson.M{"$ne": msg.ClientMessageID}
	}
	filter := bson.M{"_id": oid, "participations": bson.M{"$elemMatch": elem}}
	update := bson.M{"$push": bson.M{"participations.$.messages": msg}}

	res, err := m.DB.UpdateOne(ctx, filter, update)
	if err != nil {
		return msg, false, persistenceFailure(err)
	}
	if res.MatchedCount > 0 {
		return msg, true, nil
	}

	// nothing matched: the participation is gone, the transaction is gone,
	// or this is a retry of a message we already stored
	txn, err := m.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return msg, false, err
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
	return msg, false, participationNotFound(participantID)
}

// MarkRead flags every unread message addressed to readerID in the
// participation as read and delivered
func (m *MongoStore) MarkRead(ctx context.Context, transactionID, participantID, readerID string) error {
	oid, err := objectID(transactionID)
	if err != nil {
		return err
	}

	filter := bson.M{"_id": oid, "participations.participantId": participantID}
	update := bson.M{"$set": bson.M{
		"participations.$[p].messages.$[m].read":      true,
		"participations.$[p].messages.$[m].delivered": true,
	}}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"p.participantId": participantID},
			bson.M{"m.receiverId": readerID, "m.read": bson.M{"$ne": true}},
		},
	})

	res, err := m.DB.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return persistenceFailure(err)
	}
	if res.MatchedCount == 0 {
		return participationNotFound(participantID)
	}
	return nil
}

type messagePage struct {
	Total    int64            `bson:"total"`
	Messages []models.Message `bson:"messages"`
}

// Messages returns one page of the participation's history, oldest first,
// along with the total number of messages in it
func (m *MongoStore) Messages(ctx context.Context, transactionID, participantID string, skip, limit int) ([]models.Message, int64, error) {
	oid, err := objectID(transactionID)
	if err != nil {
		return nil, 0, err
	}

	pipeline := []bson.M{
		{"$match": bson.M{"_id": oid}},
		{"$unwind": "$participations"},
		{"$match": bson.M{"participations.participantId": participantID}},
		{"$project": bson.M{
			"_id":      0,
			"total":    bson.M{"$size": bson.M{"$ifNull": bson.A{"$participations.messages", bson.A{}}}},
			"messages": bson.M{"$slice": bson.A{bson.M{"$ifNull": bson.A{"$participations.messages", bson.A{}}}, skip, limit}},
		}},
	}

	var pages []messagePage
	if err := m.DB.Aggregate(ctx, pipeline, &pages); err != nil {
		return nil, 0, persistenceFailure(err)
	}
	if len(pages) == 0 {
		return nil, 0, participationNotFound(participantID)
	}
	msgs := pages[0].Messages
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, pages[0].Total, nil
}

package databases

// go generate: mockery --name TransactionDatabase

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/marketplace-chat-api/models"
)

const transactionName = "transactions"

// ErrNotFound is returned by FindOne when no transaction matches the filter
var ErrNotFound = errors.New("transaction not found")

// TransactionDatabase contains the methods to use with the transaction database
type TransactionDatabase interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Transaction, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Aggregate(ctx context.Context, pipeline interface{}, results interface{}, opts ...*options.AggregateOptions) error
}

type transactionDatabase struct {
	db DatabaseHelper
}

// NewTransactionDatabase initializes a new instance of transaction database with the provided db connection
func NewTransactionDatabase(db DatabaseHelper) TransactionDatabase {
	return &transactionDatabase{
		db: db,
	}
}

func (t *transactionDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Transaction, error) {
	txn := &models.Transaction{}
	err := t.db.Collection(transactionName).FindOne(ctx, filter, opts...).Decode(&txn)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find transaction")
	}
	return txn, nil
}

func (t *transactionDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	res, err := t.db.Collection(transactionName).UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "update transaction")
	}
	return res, nil
}

func (t *transactionDatabase) Aggregate(ctx context.Context, pipeline interface{}, results interface{}, opts ...*options.AggregateOptions) error {
	cur, err := t.db.Collection(transactionName).Aggregate(ctx, pipeline, opts...)
	if err != nil {
		return errors.Wrap(err, "aggregate transactions")
	}
	return errors.Wrap(cur.Decode(results), "decode aggregate")
}

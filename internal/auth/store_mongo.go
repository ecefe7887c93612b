package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoAccountsCollection = "accounts"

// MongoStore maps one account to one document. Save replaces the document
// only when its version field still matches.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(mongoAccountsCollection)}
}

// EnsureIndexes creates the unique identity index and the session token
// lookup index. It is safe to call on every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "sessions.tokenHash", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "sessions.expiresAt", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create account indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (Account, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *MongoStore) FindByIdentity(ctx context.Context, identity string) (Account, error) {
	return s.findOne(ctx, bson.D{{Key: "identity", Value: NormalizeIdentity(identity)}})
}

func (s *MongoStore) FindBySessionToken(ctx context.Context, tokenHash string) (Account, error) {
	return s.findOne(ctx, bson.D{{Key: "sessions.tokenHash", Value: tokenHash}})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D) (Account, error) {
	var account Account
	if err := s.coll.FindOne(ctx, filter).Decode(&account); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func (s *MongoStore) Create(ctx context.Context, account Account) (Account, error) {
	account.Identity = NormalizeIdentity(account.Identity)
	account.Version = 1

	if _, err := s.coll.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Account{}, ErrDuplicateIdentity
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (s *MongoStore) Save(ctx context.Context, account *Account) error {
	next := *account
	next.Version = account.Version + 1

	res, err := s.coll.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: account.ID},
		{Key: "version", Value: account.Version},
	}, next)
	if err != nil {
		return fmt.Errorf("replace account: %w", err)
	}
	if res.MatchedCount == 0 {
		count, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: account.ID}})
		if err != nil {
			return fmt.Errorf("count account: %w", err)
		}
		if count == 0 {
			return ErrAccountNotFound
		}
		return ErrVersionConflict
	}

	account.Version = next.Version
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

func (s *MongoStore) ExpiredSessionHolders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}

	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, bson.D{
		{Key: "sessions.expiresAt", Value: bson.D{{Key: "$lte", Value: now.UTC()}}},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find expired session holders: %w", err)
	}

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode expired session holders: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

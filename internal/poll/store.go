package poll

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shopchat/internal/apperr"
)

const collectionName = "polls"

// errStale reports that the poll changed between load and save.
var errStale = errors.New("poll was modified concurrently")

type Store struct {
	coll *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{coll: db.Collection(collectionName)}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "chatType", Value: 1}}},
		{Keys: bson.D{{Key: "creator", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
	})
	return errors.Wrap(err, "create poll indexes")
}

func (s *Store) Insert(ctx context.Context, p *Poll) error {
	if p.ID == "" {
		p.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.coll.InsertOne(ctx, p); err != nil {
		return apperr.Internal(err, "insert poll")
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*Poll, error) {
	var p Poll
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("poll %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "find poll")
	}
	return &p, nil
}

// Save writes the vote state of p if nobody else saved it since it was
// loaded, and bumps its version.
func (s *Store) Save(ctx context.Context, p *Poll) error {
	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": p.ID, "version": p.Version},
		bson.M{
			"$set": bson.M{
				"options":    p.Options,
				"totalVotes": p.TotalVotes,
				"isActive":   p.IsActive,
				"updatedAt":  now,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return apperr.Internal(err, "save poll")
	}
	if res.MatchedCount == 0 {
		return errStale
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *Store) SetMessageID(ctx context.Context, pollID, messageID string) error {
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": pollID}, bson.M{"$set": bson.M{"messageId": messageID}})
	return apperr.Internal(err, "set poll message id")
}

// ListForChat returns one page of a chat's polls, newest first, and the
// total number of polls in that chat.
func (s *Store) ListForChat(ctx context.Context, chatType ChatType, chatID string, page, limit int) ([]*Poll, int64, error) {
	filter := bson.M{"chatType": chatType, "chatId": chatID}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, apperr.Internal(err, "list polls")
	}
	polls := []*Poll{}
	if err := cur.All(ctx, &polls); err != nil {
		return nil, 0, apperr.Internal(err, "decode polls")
	}
	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Internal(err, "count polls")
	}
	return polls, total, nil
}

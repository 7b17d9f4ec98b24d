package channel

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

const collectionName = "channels"

type Repository struct {
	coll *mongo.Collection
}

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(collectionName)}
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "members", Value: 1}}},
		{Keys: bson.D{{Key: "admin", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	})
	return errors.Wrap(err, "create channel indexes")
}

func (r *Repository) Insert(ctx context.Context, ch *Channel) error {
	if ch.ID == "" {
		ch.ID = primitive.NewObjectID().Hex()
	}
	if ch.Messages == nil {
		ch.Messages = []string{}
	}
	if _, err := r.coll.InsertOne(ctx, ch); err != nil {
		return apperr.Internal(err, "insert channel")
	}
	return nil
}

func (r *Repository) decodeOne(res *mongo.SingleResult, id string) (*Channel, error) {
	var ch Channel
	err := res.Decode(&ch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("channel %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "decode channel")
	}
	return &ch, nil
}

// FindWithMembers loads the channel with its member and admin ids.
func (r *Repository) FindWithMembers(ctx context.Context, id string) (*Channel, error) {
	return r.decodeOne(r.coll.FindOne(ctx, bson.M{"_id": id}), id)
}

func (r *Repository) update(ctx context.Context, id string, update bson.M) (*Channel, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return r.decodeOne(r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts), id)
}

// AppendMessage records messageID at the end of the channel history and
// returns the updated channel.
func (r *Repository) AppendMessage(ctx context.Context, channelID, messageID string) (*Channel, error) {
	return r.update(ctx, channelID, bson.M{
		"$push": bson.M{"messages": messageID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
}

func (r *Repository) RemoveMember(ctx context.Context, channelID, userID string) (*Channel, error) {
	return r.update(ctx, channelID, bson.M{
		"$pull": bson.M{"members": userID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
}

func (r *Repository) SetDescription(ctx context.Context, channelID, description string) (*Channel, error) {
	return r.update(ctx, channelID, bson.M{
		"$set": bson.M{"description": description, "updatedAt": time.Now().UTC()},
	})
}

func (r *Repository) find(ctx context.Context, filter bson.M) ([]*Channel, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Internal(err, "find channels")
	}
	channels := []*Channel{}
	if err := cur.All(ctx, &channels); err != nil {
		return nil, apperr.Internal(err, "decode channels")
	}
	return channels, nil
}

// ListForUser returns the channels userID administers or belongs to,
// most recently active first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]*Channel, error) {
	return r.find(ctx, bson.M{"$or": bson.A{bson.M{"admin": userID}, bson.M{"members": userID}}})
}

func (r *Repository) ListAll(ctx context.Context) ([]*Channel, error) {
	return r.find(ctx, bson.M{})
}

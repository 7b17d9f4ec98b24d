package message

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

const collectionName = "messages"

// Store persists messages in MongoDB.
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewStore(db *mongo.Database) *Store {
	return &Store{coll: db.Collection(collectionName), now: time.Now}
}

func NewID() string { return primitive.NewObjectID().Hex() }

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "sender", Value: 1}, {Key: "isRead", Value: 1}}},
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "pollId", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	return errors.Wrap(err, "create message indexes")
}

// CreateMessage inserts m, filling in id, timestamp and status when unset.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.Sender == "" {
		return apperr.Validation("sender is required")
	}
	if m.Recipient == "" && m.ChannelID == "" {
		return apperr.Validation("message needs a recipient or a channel")
	}
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		return apperr.Internal(err, "insert message")
	}
	return nil
}

func unreadFilter(viewer, counterpart string) bson.M {
	return bson.M{"sender": counterpart, "recipient": viewer, "isRead": false}
}

// MarkRead flips every unread message from counterpart to viewer to seen
// and returns how many changed.
func (s *Store) MarkRead(ctx context.Context, viewer, counterpart string, at time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx, unreadFilter(viewer, counterpart), bson.M{
		"$set": bson.M{"isRead": true, "readAt": at, "messageStatus": StatusSeen},
	})
	if err != nil {
		return 0, apperr.Internal(err, "mark messages read")
	}
	return res.ModifiedCount, nil
}

func (s *Store) CountUnread(ctx context.Context, viewer, counterpart string) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, unreadFilter(viewer, counterpart))
	if err != nil {
		return 0, apperr.Internal(err, "count unread messages")
	}
	return n, nil
}

// UnreadCounts returns the unread direct message count per sender.
func (s *Store) UnreadCounts(ctx context.Context, viewer string) ([]UnreadCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"recipient": viewer, "isRead": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$sender", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Internal(err, "aggregate unread counts")
	}
	counts := []UnreadCount{}
	if err := cur.All(ctx, &counts); err != nil {
		return nil, apperr.Internal(err, "decode unread counts")
	}
	return counts, nil
}

// Conversation returns the direct messages between a and b, oldest first.
func (s *Store) Conversation(ctx context.Context, a, b string) ([]*Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender": a, "recipient": b},
		bson.M{"sender": b, "recipient": a},
	}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, apperr.Internal(err, "find conversation")
	}
	msgs := []*Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, apperr.Internal(err, "decode conversation")
	}
	return msgs, nil
}

// FindByIDs returns the messages for ids in the order given. Unknown ids
// are skipped.
func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]*Message, error) {
	if len(ids) == 0 {
		return []*Message{}, nil
	}
	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, apperr.Internal(err, "find messages")
	}
	var found []*Message
	if err := cur.All(ctx, &found); err != nil {
		return nil, apperr.Internal(err, "decode messages")
	}
	byID := make(map[string]*Message, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	ordered := make([]*Message, 0, len(found))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			ordered = append(ordered, m)
		}
	}
	return ordered, nil
}

// Partners lists everyone userID has exchanged direct messages with,
// most recent conversation first.
func (s *Store) Partners(ctx context.Context, userID string) ([]Partner, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"recipient": bson.M{"$exists": true, "$ne": ""},
			"$or":       bson.A{bson.M{"sender": userID}, bson.M{"recipient": userID}},
		}}},
		{{Key: "$project", Value: bson.M{
			"partner": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$sender", userID}}, "$recipient", "$sender",
			}},
			"timestamp": 1,
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":             "$partner",
			"lastMessageTime": bson.M{"$max": "$timestamp"},
		}}},
		{{Key: "$sort", Value: bson.M{"lastMessageTime": -1}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Internal(err, "aggregate partners")
	}
	partners := []Partner{}
	if err := cur.All(ctx, &partners); err != nil {
		return nil, apperr.Internal(err, "decode partners")
	}
	return partners, nil
}

// UpdatePollSnapshot replaces the poll data embedded in a poll message.
func (s *Store) UpdatePollSnapshot(ctx context.Context, messageID string, snapshot PollData) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "messageType": VariantPoll},
		bson.M{"$set": bson.M{"pollData": snapshot}},
	)
	if err != nil {
		return apperr.Internal(err, "update poll snapshot")
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("poll message %s not found", messageID)
	}
	return nil
}

// MarkDelivered moves sent messages to delivered. Messages already seen
// are left alone.
func (s *Store) MarkDelivered(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "messageStatus": StatusSent},
		bson.M{"$set": bson.M{"messageStatus": StatusDelivered}},
	)
	if err != nil {
		return apperr.Internal(err, "mark messages delivered")
	}
	return nil
}

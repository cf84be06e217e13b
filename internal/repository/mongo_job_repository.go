package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slack_scheduler/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoJobRepository stores jobs in a collection and claims them with FindOneAndUpdate,
// which selects and locks one document in a single server-side operation.
type MongoJobRepository struct {
	col      *mongo.Collection
	leaseTTL time.Duration
	now      func() time.Time
}

func NewMongoJobRepository(db *mongo.Database, leaseTTL time.Duration) *MongoJobRepository {
	if leaseTTL < 0 {
		leaseTTL = 0
	}
	return &MongoJobRepository{
		col:      db.Collection(colScheduledMessages),
		leaseTTL: leaseTTL,
		now:      time.Now,
	}
}

func (r *MongoJobRepository) Insert(ctx context.Context, msg *models.ScheduledMessage) (string, error) {
	if err := validateInsert(msg); err != nil {
		return "", err
	}

	doc := *msg
	doc.ID = uuid.NewString()
	// BSON dates carry milliseconds
	doc.SendAt = msg.SendAt.UTC().Truncate(time.Millisecond)
	doc.Locked = false
	doc.LockedUntil = nil
	doc.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return "", storeErr("insert scheduled message", err)
	}

	*msg = doc
	return doc.ID, nil
}

// ClaimNextDue: now decides which jobs are due, the lease runs from the moment of the claim.
func (r *MongoJobRepository) ClaimNextDue(ctx context.Context, now time.Time) (models.ScheduledMessage, bool, error) {
	now = now.UTC()
	// BSON dates carry milliseconds; Release compares the lease by equality
	clock := r.now().UTC().Truncate(time.Millisecond)

	filter := bson.M{
		"send_at": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"locked": false},
			// null/missing never matches $lte, so only expired leases qualify
			bson.M{"locked_until": bson.M{"$lte": clock}},
		},
	}

	update := bson.M{"$set": bson.M{"locked": true}}
	if r.leaseTTL > 0 {
		update = bson.M{"$set": bson.M{"locked": true, "locked_until": clock.Add(r.leaseTTL)}}
	} else {
		update["$unset"] = bson.M{"locked_until": ""}
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "send_at", Value: 1}})

	var m models.ScheduledMessage
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return models.ScheduledMessage{}, false, nil
		}
		return models.ScheduledMessage{}, false, storeErr("claim scheduled message", err)
	}
	return normalizeDoc(m), true, nil
}

func (r *MongoJobRepository) MarkDelivered(ctx context.Context, id string) error {
	if _, err := r.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return storeErr("mark delivered", err)
	}
	return nil
}

func (r *MongoJobRepository) Unlock(ctx context.Context, id string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":   bson.M{"locked": false},
			"$unset": bson.M{"locked_until": ""},
		},
	)
	if err != nil {
		return storeErr("unlock scheduled message", err)
	}
	return nil
}

// Release unlocks the job only while it still carries the lease of the claim that returned it.
func (r *MongoJobRepository) Release(ctx context.Context, claimed models.ScheduledMessage) error {
	filter := bson.M{"_id": claimed.ID, "locked": true}
	if claimed.LockedUntil != nil {
		filter["locked_until"] = claimed.LockedUntil.UTC()
	} else {
		filter["locked_until"] = bson.M{"$exists": false}
	}

	_, err := r.col.UpdateOne(ctx, filter, bson.M{
		"$set":   bson.M{"locked": false},
		"$unset": bson.M{"locked_until": ""},
	})
	if err != nil {
		return storeErr("release scheduled message", err)
	}
	return nil
}

func (r *MongoJobRepository) ListUpcoming(ctx context.Context, workspace string, since time.Time) ([]models.ScheduledMessage, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, fmt.Errorf("workspace is empty")
	}

	cursor, err := r.col.Find(ctx,
		bson.M{
			"workspace": workspace,
			"send_at":   bson.M{"$gte": since.UTC()},
		},
		options.Find().SetSort(bson.D{{Key: "send_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, storeErr("find upcoming", err)
	}
	defer cursor.Close(ctx)

	var docs []models.ScheduledMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeErr("decode upcoming", err)
	}

	res := make([]models.ScheduledMessage, 0, len(docs))
	for _, d := range docs {
		res = append(res, normalizeDoc(d))
	}
	return res, nil
}

func (r *MongoJobRepository) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, storeErr("cancel scheduled message", err)
	}
	return res.DeletedCount > 0, nil
}

func (r *MongoJobRepository) Stats(ctx context.Context, now time.Time) (models.JobStats, error) {
	var (
		st  models.JobStats
		err error
	)
	if st.Pending, err = r.col.CountDocuments(ctx, bson.M{"locked": false}); err != nil {
		return models.JobStats{}, storeErr("count pending", err)
	}
	if st.Locked, err = r.col.CountDocuments(ctx, bson.M{"locked": true}); err != nil {
		return models.JobStats{}, storeErr("count locked", err)
	}
	if st.Overdue, err = r.col.CountDocuments(ctx, bson.M{"locked": false, "send_at": bson.M{"$lte": now.UTC()}}); err != nil {
		return models.JobStats{}, storeErr("count overdue", err)
	}
	return st, nil
}

func normalizeDoc(m models.ScheduledMessage) models.ScheduledMessage {
	m.SendAt = m.SendAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	if m.LockedUntil != nil {
		t := m.LockedUntil.UTC()
		m.LockedUntil = &t
	}
	return m
}

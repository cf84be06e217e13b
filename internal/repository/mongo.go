package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	colScheduledMessages = "scheduled_messages"
	colWorkspaceTokens   = "workspace_tokens"
)

// NewMongoDatabase connects, pings and returns the client together with the named database.
func NewMongoDatabase(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, storeErr("connect mongo", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, storeErr("ping mongo", err)
	}

	return client, client.Database(dbName), nil
}

// EnsureMongoIndexes is the mongo counterpart of the goose migrations.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		colScheduledMessages: {
			{Keys: bson.D{{Key: "locked", Value: 1}, {Key: "send_at", Value: 1}}},
			{Keys: bson.D{{Key: "workspace", Value: 1}, {Key: "send_at", Value: 1}}},
		},
		colWorkspaceTokens: {
			{Keys: bson.D{{Key: "workspace", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for col, models := range indexes {
		if _, err := db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return storeErr(fmt.Sprintf("create %s indexes", col), err)
		}
	}
	return nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

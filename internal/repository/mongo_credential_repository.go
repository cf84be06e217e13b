package repository

import (
	"context"
	"strings"
	"time"

	"slack_scheduler/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type MongoCredentialRepository struct {
	col *mongo.Collection
}

func NewMongoCredentialRepository(db *mongo.Database) *MongoCredentialRepository {
	return &MongoCredentialRepository{col: db.Collection(colWorkspaceTokens)}
}

func (r *MongoCredentialRepository) Resolve(ctx context.Context, workspace string) (models.Credential, bool, error) {
	if strings.TrimSpace(workspace) == "" {
		return models.Credential{}, false, nil
	}

	var c models.Credential
	if err := r.col.FindOne(ctx, bson.M{"workspace": workspace}).Decode(&c); err != nil {
		if isNoDocuments(err) {
			return models.Credential{}, false, nil
		}
		return models.Credential{}, false, storeErr("resolve credential", err)
	}
	return c, true, nil
}

func (r *MongoCredentialRepository) Upsert(ctx context.Context, c models.Credential) error {
	if strings.TrimSpace(c.Workspace) == "" || strings.TrimSpace(c.AccessToken) == "" {
		return ErrInvalidCredential
	}

	_, err := r.col.UpdateOne(ctx,
		bson.M{"workspace": c.Workspace},
		bson.M{"$set": bson.M{
			"workspace":    c.Workspace,
			"access_token": c.AccessToken,
			"team_id":      c.TeamID,
			"updated_at":   time.Now().UTC(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return storeErr("upsert credential", err)
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slack_scheduler/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tableWorkspaceTokens = "workspace_tokens"

type CredentialRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Resolve looks up the token of a workspace. found=false with a nil error means no token is registered.
func (r *CredentialRepository) Resolve(ctx context.Context, workspace string) (models.Credential, bool, error) {
	if strings.TrimSpace(workspace) == "" {
		return models.Credential{}, false, nil
	}

	q := r.sb.
		Select("workspace", "access_token", "team_id", "updated_at").
		From(tableWorkspaceTokens).
		Where(sq.Eq{"workspace": workspace}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return models.Credential{}, false, fmt.Errorf("build resolve credential sql: %w", err)
	}

	var c models.Credential
	err = r.db.QueryRow(ctx, sqlStr, args...).Scan(&c.Workspace, &c.AccessToken, &c.TeamID, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Credential{}, false, nil
		}
		return models.Credential{}, false, storeErr("resolve credential", err)
	}
	return c, true, nil
}

// Upsert(credential) – вставка или обновление токена по workspace.
func (r *CredentialRepository) Upsert(ctx context.Context, c models.Credential) error {
	if strings.TrimSpace(c.Workspace) == "" || strings.TrimSpace(c.AccessToken) == "" {
		return ErrInvalidCredential
	}

	q := r.sb.
		Insert(tableWorkspaceTokens).
		Columns("workspace", "access_token", "team_id").
		Values(c.Workspace, c.AccessToken, c.TeamID).
		Suffix(`
ON CONFLICT (workspace)
DO UPDATE SET
	access_token = EXCLUDED.access_token,
	team_id = EXCLUDED.team_id,
	updated_at = NOW()
`)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert credential sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sqlStr, args...); err != nil {
		return storeErr("upsert credential", err)
	}
	return nil
}

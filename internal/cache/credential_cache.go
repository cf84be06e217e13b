package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"slack_scheduler/internal/metrics"
	"slack_scheduler/internal/models"

	"github.com/rs/zerolog"
)

type CredentialResolver interface {
	Resolve(ctx context.Context, workspace string) (models.Credential, bool, error)
}

// CredentialCache is a read-through cache in front of the credential store.
// Only found credentials are cached; a workspace without a token is looked up
// again on every call so a fresh OAuth install is picked up immediately.
// Cache failures degrade to a direct store lookup.
type CredentialCache struct {
	next   CredentialResolver
	c      Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCredentialCache(next CredentialResolver, c Cache, ttl time.Duration, logger zerolog.Logger) *CredentialCache {
	return &CredentialCache{next: next, c: c, ttl: ttl, logger: logger}
}

func (cc *CredentialCache) Resolve(ctx context.Context, workspace string) (models.Credential, bool, error) {
	key := CredentialKey(workspace)

	b, ok, err := cc.c.Get(ctx, key)
	switch {
	case err != nil:
		cc.logger.Warn().Err(err).Str("workspace", workspace).Msg("credential cache get failed, falling back to store")
	case ok:
		var cred models.Credential
		if err := json.Unmarshal(b, &cred); err == nil && strings.TrimSpace(cred.AccessToken) != "" {
			metrics.IncCredentialCacheHit()
			return cred, true, nil
		}
		// битая запись: перечитаем из стора и перезапишем
		cc.logger.Warn().Str("workspace", workspace).Msg("credential cache entry is corrupt")
	}
	metrics.IncCredentialCacheMiss()

	cred, found, err := cc.next.Resolve(ctx, workspace)
	if err != nil || !found {
		return cred, found, err
	}

	if raw, err := json.Marshal(cred); err == nil {
		if err := cc.c.Set(ctx, key, raw, cc.ttl); err != nil {
			cc.logger.Warn().Err(err).Str("workspace", workspace).Msg("credential cache set failed")
		}
	}
	return cred, true, nil
}

// Invalidate drops the cached token, e.g. after the workspace re-installs the app.
func (cc *CredentialCache) Invalidate(ctx context.Context, workspace string) error {
	if err := cc.c.Del(ctx, CredentialKey(workspace)); err != nil {
		return fmt.Errorf("invalidate credential %q: %w", workspace, err)
	}
	metrics.IncCredentialCacheInvalidation()
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"slack_scheduler/internal/models"
	"slack_scheduler/internal/slackapi"

	"github.com/rs/zerolog"
)

// OAuthService completes the "Add to Slack" flow: the callback code is traded
// for a bot token which is stored under the workspace (team) name.
type OAuthService struct {
	installer Installer
	creds     CredentialStore
	cache     CredentialInvalidator // nil when redis is off
	enabled   bool
	logger    zerolog.Logger
}

func NewOAuthService(
	installer Installer,
	creds CredentialStore,
	cache CredentialInvalidator,
	enabled bool,
	logger zerolog.Logger,
) *OAuthService {
	return &OAuthService{
		installer: installer,
		creds:     creds,
		cache:     cache,
		enabled:   enabled,
		logger:    logger,
	}
}

func (s *OAuthService) AuthorizeURL() (string, error) {
	if !s.enabled {
		return "", ErrOAuthNotConfigured
	}
	return s.installer.AuthorizeURL(), nil
}

// CompleteInstall returns the workspace name the token was stored under.
func (s *OAuthService) CompleteInstall(ctx context.Context, code string) (string, error) {
	if !s.enabled {
		return "", ErrOAuthNotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("%w: code is required", ErrValidation)
	}

	inst, err := s.installer.ExchangeCode(ctx, code)
	if err != nil {
		var apiErr *slackapi.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: %s", ErrGatewayRejected, apiErr.Code)
		}
		return "", fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}

	cred := models.Credential{
		Workspace:   inst.Workspace,
		AccessToken: inst.AccessToken,
		TeamID:      inst.TeamID,
	}
	if err := s.creds.Upsert(ctx, cred); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, inst.Workspace); err != nil {
			// старый токен доживёт до TTL
			s.logger.Warn().Err(err).Str("workspace", inst.Workspace).Msg("credential cache invalidation failed")
		}
	}

	s.logger.Info().Str("workspace", inst.Workspace).Str("team_id", inst.TeamID).Msg("workspace installed")
	return inst.Workspace, nil
}

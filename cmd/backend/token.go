package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/feedboard/backend/internal/auth"
	"github.com/feedboard/backend/internal/config"
)

// issueToken mints a tenant access token signed with the configured secret
func issueToken(cfg *config.Config, tenantID int64, tenantURL string, ttl time.Duration) (string, time.Time, error) {
	if tenantID <= 0 {
		return "", time.Time{}, fmt.Errorf("tenant id must be positive, got %d", tenantID)
	}
	if tenantURL == "" {
		tenantURL = strings.ReplaceAll(cfg.Sync.TenantURLTemplate, "{tenant_id}", strconv.FormatInt(tenantID, 10))
	}

	jwtConfig := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
	if ttl > 0 {
		jwtConfig = auth.NewJWTConfig(cfg.Auth.JWTSecret, ttl)
	}
	return jwtConfig.GenerateToken(tenantID, tenantURL)
}

func tokenAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	token, expiresAt, err := issueToken(cfg, cmd.Int("tenant"), cmd.String("tenant-url"), cmd.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Printf("%s\nexpires_at=%s\n", token, expiresAt.UTC().Format(time.RFC3339))
	return nil
}

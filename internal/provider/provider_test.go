package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubProvider struct {
	cfg Config
}

func (s *stubProvider) TestConnection(ctx context.Context, apiKey string) ConnectionResult {
	return ConnectionResult{Success: apiKey == s.cfg.APIKey, Identity: "stub"}
}

func (s *stubProvider) SyncOutbound(ctx context.Context, post LocalPost, existingRemoteID string) OutboundResult {
	return OutboundResult{Success: true, RemoteID: existingRemoteID}
}

func (s *stubProvider) SyncInbound(ctx context.Context, since *time.Time) ([]RemoteChange, error) {
	return nil, nil
}

func TestRegistryBuildsRegisteredProvider(t *testing.T) {
	registry := NewRegistry()
	registry.Register("stub", func(cfg Config) (Provider, error) {
		return &stubProvider{cfg: cfg}, nil
	})

	p, err := registry.New("stub", Config{APIKey: "key_1"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if result := p.TestConnection(context.Background(), "key_1"); !result.Success {
		t.Fatalf("expected provider to receive config, got %+v", result)
	}
	if types := registry.Types(); len(types) != 1 || types[0] != "stub" {
		t.Fatalf("unexpected registered types: %v", types)
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	registry := NewRegistry()
	registry.Register("notion", func(cfg Config) (Provider, error) { return &stubProvider{cfg: cfg}, nil })

	_, err := registry.New("jira", Config{})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "supported: notion") {
		t.Fatalf("expected the supported types in the error, got %q", err)
	}
}

package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/feedboard/backend/internal/provider"
	"github.com/feedboard/backend/internal/repo"
	"github.com/feedboard/backend/pkg/events"
)

func validCreateInput() CreateIntegrationInput {
	interval := int32(30)
	return CreateIntegrationInput{
		TenantID: testTenant,
		Type:     events.IntegrationTypeNotion,
		Name:     "Roadmap",
		Config: repo.IntegrationConfig{
			APIKey:           "secret_plain",
			RemoteDatabaseID: "db_1",
			PropertyMapping:  repo.PropertyMapping{Title: "Name"},
			BoardMapping:     repo.OptionMapping{"opt-1": {LocalID: 10}},
			SyncDirection:    events.SyncDirectionOutbound,
		},
		SyncIntervalMinutes: &interval,
	}
}

func TestCreateIntegrationEncryptsKeyAfterConnectionTest(t *testing.T) {
	h := newHarness(t)

	integration, err := h.registry.CreateIntegration(context.Background(), validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if h.provider.testCalls != 1 {
		t.Fatalf("expected one connection test, got %d", h.provider.testCalls)
	}
	if h.factory.configs[0].APIKey != "secret_plain" {
		t.Fatalf("provider must be tested with the plaintext key")
	}
	if integration.Config.APIKey == "secret_plain" || !h.vault.LooksEncrypted(integration.Config.APIKey) {
		t.Fatalf("expected ciphertext at rest, got %q", integration.Config.APIKey)
	}
	plain, err := h.vault.Decrypt(integration.Config.APIKey)
	if err != nil || plain != "secret_plain" {
		t.Fatalf("expected key to decrypt back, got %q (%v)", plain, err)
	}
	if !integration.Enabled || integration.SyncIntervalMinutes.Int32 != 30 {
		t.Fatalf("unexpected integration %+v", integration)
	}
}

func TestCreateIntegrationRequiresSuccessfulConnectionTest(t *testing.T) {
	h := newHarness(t)
	h.provider.testResult = provider.ConnectionResult{Success: false, Error: "API token is invalid."}

	_, err := h.registry.CreateIntegration(context.Background(), validCreateInput())

	if !errors.Is(err, ErrConnectionTestFailed) {
		t.Fatalf("expected ErrConnectionTestFailed, got %v", err)
	}
	if err.Error() != "ConnectionTestFailed: API token is invalid." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if h.integrations.createCalls != 0 {
		t.Fatalf("repository create must not be called")
	}
}

func TestCreateIntegrationValidatesInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateIntegrationInput)
		want   error
	}{
		{name: "missing name", mutate: func(in *CreateIntegrationInput) { in.Name = " " }, want: ErrInvalidConfig},
		{name: "bad direction", mutate: func(in *CreateIntegrationInput) { in.Config.SyncDirection = "sideways" }, want: ErrInvalidConfig},
		{name: "missing database", mutate: func(in *CreateIntegrationInput) { in.Config.RemoteDatabaseID = "" }, want: ErrInvalidConfig},
		{name: "non positive interval", mutate: func(in *CreateIntegrationInput) { zero := int32(0); in.SyncIntervalMinutes = &zero }, want: ErrInvalidConfig},
		{name: "unknown type", mutate: func(in *CreateIntegrationInput) { in.Type = "jira" }, want: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			input := validCreateInput()
			tt.mutate(&input)

			_, err := h.registry.CreateIntegration(context.Background(), input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if h.integrations.createCalls != 0 {
				t.Fatalf("invalid input must not be stored")
			}
		})
	}
}

func TestUpdateIntegrationMergesSuppliedFields(t *testing.T) {
	h := newHarness(t)
	created, err := h.registry.CreateIntegration(context.Background(), validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	storedKey := created.Config.APIKey

	var input UpdateIntegrationInput
	body := `{"name":"Renamed","syncIntervalMinutes":null,"config":{"syncDirection":"bidirectional"}}`
	if err := json.Unmarshal([]byte(body), &input); err != nil {
		t.Fatalf("decode: %v", err)
	}

	updated, err := h.registry.UpdateIntegration(context.Background(), created.ID, testTenant, input)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.Name != "Renamed" || updated.Config.SyncDirection != events.SyncDirectionBidirectional {
		t.Fatalf("expected supplied fields applied, got %+v", updated)
	}
	if updated.SyncIntervalMinutes.Valid {
		t.Fatalf("explicit null must clear the interval")
	}
	if updated.Config.APIKey != storedKey || updated.Config.RemoteDatabaseID != "db_1" || updated.Config.BoardMapping["opt-1"].LocalID != 10 {
		t.Fatalf("omitted config fields must be preserved, got %+v", updated.Config)
	}
	if !updated.Enabled {
		t.Fatalf("omitted enabled flag must be preserved")
	}
}

func TestUpdateIntegrationKeyHandling(t *testing.T) {
	h := newHarness(t)
	created, err := h.registry.CreateIntegration(context.Background(), validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	storedKey := created.Config.APIKey

	// Echoing the stored ciphertext back keeps it as is
	updated, err := h.registry.UpdateIntegration(context.Background(), created.ID, testTenant, UpdateIntegrationInput{
		Config: ConfigPatch{APIKey: Set(storedKey)},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Config.APIKey != storedKey {
		t.Fatalf("ciphertext must pass through unchanged")
	}

	// A fresh plaintext key is encrypted
	updated, err = h.registry.UpdateIntegration(context.Background(), created.ID, testTenant, UpdateIntegrationInput{
		Config: ConfigPatch{APIKey: Set("secret_new")},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Config.APIKey == "secret_new" || updated.Config.APIKey == storedKey {
		t.Fatalf("expected new ciphertext, got %q", updated.Config.APIKey)
	}
	plain, _ := h.vault.Decrypt(updated.Config.APIKey)
	if plain != "secret_new" {
		t.Fatalf("expected new key stored, got %q", plain)
	}
	if h.provider.testCalls != 1 {
		t.Fatalf("updates do not re-test the connection")
	}
}

func TestUpdateIntegrationScopedToTenant(t *testing.T) {
	h := newHarness(t)
	created, err := h.registry.CreateIntegration(context.Background(), validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.registry.UpdateIntegration(context.Background(), created.ID, testTenant+1, UpdateIntegrationInput{Name: Set("x")})
	if !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("expected ErrIntegrationNotFound, got %v", err)
	}
}

func TestDeleteIntegrationCleansUpInboundPosts(t *testing.T) {
	h := newHarness(t)
	integration := h.addIntegration(events.SyncDirectionInbound, repo.OptionMapping{"opt-a": {LocalID: 10}})
	for _, id := range []int64{1, 2, 3} {
		h.addPost(id, 10, "inbound")
		h.mappings.put(repo.IntegrationMapping{IntegrationID: integration.ID, LocalID: id, RemoteID: "page", OriginDirection: events.OriginInbound})
	}
	h.addPost(4, 10, "outbound")
	h.mappings.put(repo.IntegrationMapping{IntegrationID: integration.ID, LocalID: 4, RemoteID: "page-4", OriginDirection: events.OriginOutbound})

	result, err := h.registry.DeleteIntegration(context.Background(), integration.ID, testTenant, true)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	if result.DeletedPostCount != 3 {
		t.Fatalf("expected 3 deleted posts, got %d", result.DeletedPostCount)
	}
	if got := h.posts.deleted; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected exactly the inbound posts deleted, got %v", got)
	}
	if _, ok := h.posts.get(4); !ok {
		t.Fatalf("outbound-origin post must survive")
	}
	if len(h.integrations.deleted) != 1 {
		t.Fatalf("expected integration deleted")
	}
}

func TestDeleteIntegrationContinuesPastFailedPostDelete(t *testing.T) {
	h := newHarness(t)
	integration := h.addIntegration(events.SyncDirectionInbound, repo.OptionMapping{})
	for _, id := range []int64{1, 2, 3} {
		h.addPost(id, 10, "inbound")
		h.mappings.put(repo.IntegrationMapping{IntegrationID: integration.ID, LocalID: id, RemoteID: "page", OriginDirection: events.OriginInbound})
	}
	h.posts.deleteErr[2] = errBoom

	result, err := h.registry.DeleteIntegration(context.Background(), integration.ID, testTenant, true)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if result.DeletedPostCount != 2 {
		t.Fatalf("expected only successful deletes counted, got %d", result.DeletedPostCount)
	}
	if len(h.integrations.deleted) != 1 {
		t.Fatalf("integration must be deleted despite a failed post delete")
	}
}

func TestDeleteIntegrationWithoutCleanupKeepsPosts(t *testing.T) {
	h := newHarness(t)
	integration := h.addIntegration(events.SyncDirectionInbound, repo.OptionMapping{})
	h.addPost(1, 10, "inbound")
	h.mappings.put(repo.IntegrationMapping{IntegrationID: integration.ID, LocalID: 1, RemoteID: "page", OriginDirection: events.OriginInbound})

	result, err := h.registry.DeleteIntegration(context.Background(), integration.ID, testTenant, false)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if result.DeletedPostCount != 0 || len(h.posts.deleted) != 0 {
		t.Fatalf("expected no posts deleted, got %+v / %v", result, h.posts.deleted)
	}
}

func TestDeleteIntegrationUnknown(t *testing.T) {
	h := newHarness(t)
	if _, err := h.registry.DeleteIntegration(context.Background(), uuid.New(), testTenant, true); !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("expected ErrIntegrationNotFound, got %v", err)
	}
}

func TestIntegrationReadSurfaces(t *testing.T) {
	h := newHarness(t)
	integration := h.addIntegration(events.SyncDirectionOutbound, repo.OptionMapping{"opt-1": {LocalID: 10}})
	h.addIntegration(events.SyncDirectionOutbound, repo.OptionMapping{})
	h.addPost(1, 10, "a")
	h.mappings.put(repo.IntegrationMapping{IntegrationID: integration.ID, LocalID: 99, RemoteID: "page-99", SyncStatus: events.MappingStatusConflict})
	h.run(integration)
	ctx := context.Background()

	list, err := h.registry.ListIntegrations(ctx, testTenant)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected two integrations, got %d (%v)", len(list), err)
	}
	logs, err := h.registry.ListSyncLogs(ctx, integration.ID, testTenant, 0)
	if err != nil || len(logs) != 2 {
		t.Fatalf("expected item and run entries, got %d (%v)", len(logs), err)
	}
	runs, err := h.registry.ListSyncRuns(ctx, integration.ID, testTenant, 10)
	if err != nil || len(runs) != 1 || runs[0].Kind != events.LogKindRun {
		t.Fatalf("expected one run summary, got %+v (%v)", runs, err)
	}
	conflicts, err := h.registry.ListConflicts(ctx, integration.ID, testTenant)
	if err != nil || len(conflicts) != 1 || conflicts[0].LocalID != 99 {
		t.Fatalf("expected the conflicted mapping, got %+v (%v)", conflicts, err)
	}
	if _, err := h.registry.ListSyncLogs(ctx, integration.ID, testTenant+1, 10); !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("expected tenant scoping, got %v", err)
	}

	result, err := h.registry.TestConnection(ctx, integration.ID, testTenant)
	if err != nil || !result.Success {
		t.Fatalf("expected stored credentials to test fine, got %+v (%v)", result, err)
	}
	if h.factory.configs[len(h.factory.configs)-1].APIKey != "secret_key" {
		t.Fatalf("connection test must use the decrypted key")
	}
}

func TestConfigValidatorMessages(t *testing.T) {
	validator, err := NewConfigValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	err = validator.Validate(repo.IntegrationConfig{
		APIKey:           "k",
		RemoteDatabaseID: "db",
		BoardMapping:     repo.OptionMapping{"opt": {LocalID: 0}},
		SyncDirection:    events.SyncDirectionInbound,
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for a zero local id, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid integration config") {
		t.Fatalf("unexpected message %q", err.Error())
	}

	if err := validator.Validate(repo.IntegrationConfig{APIKey: "k", RemoteDatabaseID: "db", SyncDirection: events.SyncDirectionInbound}); err != nil {
		t.Fatalf("expected minimal config to pass, got %v", err)
	}
}

func TestFieldTracksPresence(t *testing.T) {
	var input UpdateIntegrationInput
	if err := json.Unmarshal([]byte(`{"enabled":false,"config":{"apiKey":"k"}}`), &input); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !input.Enabled.Present || input.Enabled.Value {
		t.Fatalf("expected enabled present and false, got %+v", input.Enabled)
	}
	if input.Name.Present || input.SyncIntervalMinutes.Present || input.Config.RemoteDatabaseID.Present {
		t.Fatalf("omitted fields must not be present")
	}
	if !input.Config.APIKey.Present || input.Config.APIKey.Value != "k" {
		t.Fatalf("expected api key present")
	}
	if got := input.Name.Or("fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

// Package notion implements the remote provider for Notion databases.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/feedboard/backend/internal/provider"
)

// Notion caps a single rich text object at 2000 characters
const richTextChunk = 2000

const pageSize = 100

// Provider syncs posts with one Notion database
type Provider struct {
	client *Client
	cfg    provider.Config
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.CounterUpdater = (*Provider)(nil)
)

// New creates a provider bound to one integration config
func New(client *Client, cfg provider.Config) *Provider {
	return &Provider{client: client, cfg: cfg}
}

// NewFactory returns a provider.Factory that shares one HTTP client across integrations
func NewFactory(opts ClientOptions) provider.Factory {
	client := NewClient(opts)
	return func(cfg provider.Config) (provider.Provider, error) {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("notion api key is required")
		}
		return New(client, cfg), nil
	}
}

type richText struct {
	PlainText string       `json:"plain_text,omitempty"`
	Text      *textContent `json:"text,omitempty"`
}

type textContent struct {
	Content string `json:"content"`
}

type selectOption struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type propertyValue struct {
	Type        string         `json:"type"`
	Title       []richText     `json:"title"`
	RichText    []richText     `json:"rich_text"`
	Select      *selectOption  `json:"select"`
	Status      *selectOption  `json:"status"`
	MultiSelect []selectOption `json:"multi_select"`
	URL         *string        `json:"url"`
	Number      *float64       `json:"number"`
}

type page struct {
	ID             string                   `json:"id"`
	URL            string                   `json:"url"`
	LastEditedTime time.Time                `json:"last_edited_time"`
	Archived       bool                     `json:"archived"`
	InTrash        bool                     `json:"in_trash"`
	Properties     map[string]propertyValue `json:"properties"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type userResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Bot  *struct {
		WorkspaceName string `json:"workspace_name"`
	} `json:"bot"`
}

// TestConnection checks the key by asking Notion who it belongs to
func (p *Provider) TestConnection(ctx context.Context, apiKey string) provider.ConnectionResult {
	var me userResponse
	if err := p.client.Do(ctx, apiKey, http.MethodGet, "/v1/users/me", nil, &me); err != nil {
		return provider.ConnectionResult{Success: false, Error: err.Error()}
	}

	identity := me.Name
	if me.Bot != nil && me.Bot.WorkspaceName != "" {
		if identity == "" {
			identity = me.Bot.WorkspaceName
		} else {
			identity = identity + " (" + me.Bot.WorkspaceName + ")"
		}
	}
	if identity == "" {
		identity = me.ID
	}
	return provider.ConnectionResult{Success: true, Identity: identity}
}

// SyncOutbound updates the known page or creates one in the configured database.
// A known page that no longer exists is re-created.
func (p *Provider) SyncOutbound(ctx context.Context, post provider.LocalPost, existingRemoteID string) provider.OutboundResult {
	properties := p.outboundProperties(post)

	var result page
	if existingRemoteID != "" {
		err := p.client.Do(ctx, p.cfg.APIKey, http.MethodPatch, "/v1/pages/"+url.PathEscape(existingRemoteID),
			map[string]any{"properties": properties}, &result)
		if err == nil {
			return provider.OutboundResult{Success: true, RemoteID: result.ID, RemoteURL: result.URL}
		}
		if !IsNotFound(err) {
			return outboundFailure(err)
		}
	}

	err := p.client.Do(ctx, p.cfg.APIKey, http.MethodPost, "/v1/pages", map[string]any{
		"parent":     map[string]string{"database_id": p.cfg.RemoteDatabaseID},
		"properties": properties,
	}, &result)
	if err != nil {
		return outboundFailure(err)
	}
	return provider.OutboundResult{Success: true, RemoteID: result.ID, RemoteURL: result.URL}
}

func outboundFailure(err error) provider.OutboundResult {
	var apiErr *APIError
	return provider.OutboundResult{Success: false, Error: err.Error(), Unavailable: !errors.As(err, &apiErr)}
}

// SyncInbound lists pages edited on or after since (all pages when since is nil)
func (p *Provider) SyncInbound(ctx context.Context, since *time.Time) ([]provider.RemoteChange, error) {
	path := "/v1/databases/" + url.PathEscape(p.cfg.RemoteDatabaseID) + "/query"

	var changes []provider.RemoteChange
	cursor := ""
	for {
		body := map[string]any{"page_size": pageSize}
		if since != nil {
			body["filter"] = map[string]any{
				"timestamp": "last_edited_time",
				"last_edited_time": map[string]string{
					"on_or_after": since.UTC().Format(time.RFC3339),
				},
			}
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var resp queryResponse
		if err := p.client.Do(ctx, p.cfg.APIKey, http.MethodPost, path, body, &resp); err != nil {
			return nil, fmt.Errorf("failed to query notion database: %w", err)
		}

		for _, pg := range resp.Results {
			if pg.Archived || pg.InTrash {
				continue
			}
			changes = append(changes, p.toChange(pg))
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return changes, nil
}

// UpdateCommentsField mirrors the local comment count into the mapped number property
func (p *Provider) UpdateCommentsField(ctx context.Context, remoteID string, count int) error {
	return p.updateNumber(ctx, remoteID, p.cfg.PropertyMapping.Comments, count)
}

// UpdateLikesField mirrors the local like count into the mapped number property
func (p *Provider) UpdateLikesField(ctx context.Context, remoteID string, count int) error {
	return p.updateNumber(ctx, remoteID, p.cfg.PropertyMapping.Likes, count)
}

func (p *Provider) updateNumber(ctx context.Context, remoteID, property string, count int) error {
	if property == "" {
		return nil
	}
	payload := map[string]any{
		"properties": map[string]any{
			property: map[string]any{"number": count},
		},
	}
	return p.client.Do(ctx, p.cfg.APIKey, http.MethodPatch, "/v1/pages/"+url.PathEscape(remoteID), payload, nil)
}

func (p *Provider) outboundProperties(post provider.LocalPost) map[string]any {
	mapping := p.cfg.PropertyMapping
	properties := map[string]any{
		mapping.Title: map[string]any{"title": textObjects(post.Title)},
	}
	if mapping.Description != "" {
		properties[mapping.Description] = map[string]any{"rich_text": textObjects(post.Description)}
	}
	if mapping.Status != "" && post.StatusOptionID != "" {
		statusType := mapping.StatusType
		if statusType != "status" {
			statusType = "select"
		}
		properties[mapping.Status] = map[string]any{statusType: selectOption{ID: post.StatusOptionID}}
	}
	if mapping.Board != "" && post.BoardOptionID != "" {
		properties[mapping.Board] = map[string]any{"select": selectOption{ID: post.BoardOptionID}}
	}
	if mapping.Tags != "" {
		tags := make([]selectOption, 0, len(post.Tags))
		for _, tag := range post.Tags {
			// Notion rejects commas in option names
			name := strings.TrimSpace(strings.ReplaceAll(tag, ",", " "))
			if name != "" {
				tags = append(tags, selectOption{Name: name})
			}
		}
		properties[mapping.Tags] = map[string]any{"multi_select": tags}
	}
	if mapping.URL != "" && post.URL != "" {
		properties[mapping.URL] = map[string]any{"url": post.URL}
	}
	return properties
}

func (p *Provider) toChange(pg page) provider.RemoteChange {
	mapping := p.cfg.PropertyMapping
	change := provider.RemoteChange{
		RemoteID:       pg.ID,
		RemoteURL:      pg.URL,
		LastEditedTime: pg.LastEditedTime,
	}

	if prop, ok := pg.Properties[mapping.Title]; ok {
		change.Title = plainText(prop.Title)
	}
	if prop, ok := pg.Properties[mapping.Description]; ok && mapping.Description != "" {
		change.Description = plainText(prop.RichText)
	}
	if prop, ok := pg.Properties[mapping.Status]; ok && mapping.Status != "" {
		change.StatusOptionID = optionID(prop)
	}
	if prop, ok := pg.Properties[mapping.Board]; ok && mapping.Board != "" {
		change.BoardOptionID = optionID(prop)
	}
	if prop, ok := pg.Properties[mapping.Tags]; ok && mapping.Tags != "" {
		for _, option := range prop.MultiSelect {
			change.Tags = append(change.Tags, option.Name)
		}
	}
	return change
}

func optionID(prop propertyValue) string {
	if prop.Status != nil {
		return prop.Status.ID
	}
	if prop.Select != nil {
		return prop.Select.ID
	}
	return ""
}

func plainText(parts []richText) string {
	var b strings.Builder
	for _, part := range parts {
		if part.PlainText != "" {
			b.WriteString(part.PlainText)
		} else if part.Text != nil {
			b.WriteString(part.Text.Content)
		}
	}
	return b.String()
}

func textObjects(content string) []richText {
	runes := []rune(content)
	objects := make([]richText, 0, len(runes)/richTextChunk+1)
	for start := 0; start < len(runes); start += richTextChunk {
		end := start + richTextChunk
		if end > len(runes) {
			end = len(runes)
		}
		objects = append(objects, richText{Text: &textContent{Content: string(runes[start:end])}})
	}
	return objects
}

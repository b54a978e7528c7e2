package api

import (
	"encoding/json"
	"time"
)

type (
	// FlowsResponse carries the deployed definition and its revision
	FlowsResponse struct {
		Flows *Definition `json:"flows"`
		Rev   string      `json:"rev"`
	}

	// DeployRequest submits a new definition. When Rev is set it must match
	// the running definition's revision
	DeployRequest struct {
		Flows json.RawMessage `json:"flows"`
		Rev   string          `json:"rev,omitempty"`
	}

	// FlowStateRequest starts or stops every flow
	FlowStateRequest struct {
		State RuntimeState `json:"state"`
	}

	// FlowStateResponse reports the runtime's started/stopped state
	FlowStateResponse struct {
		State RuntimeState `json:"state"`
	}

	// TokenRequest exchanges credentials for an access token
	TokenRequest struct {
		Username string `json:"username" form:"username" binding:"required"`
		Password string `json:"password" form:"password"`
	}

	// TokenResponse carries a bearer token
	TokenResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	// LoginPrompt describes one credential field
	LoginPrompt struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Label string `json:"label"`
	}

	// LoginResponse describes the active admin auth scheme. An empty Type
	// means the admin API is open
	LoginResponse struct {
		Type    string        `json:"type,omitempty"`
		Prompts []LoginPrompt `json:"prompts,omitempty"`
	}

	// NodeTypeInfo describes a registered node type
	NodeTypeInfo struct {
		Type     string   `json:"type"`
		Kind     NodeKind `json:"kind"`
		Category string   `json:"category"`
		Inputs   int      `json:"inputs"`
		Outputs  int      `json:"outputs"`
	}

	// NodeTypesResponse lists registered node types in palette order
	NodeTypesResponse struct {
		Types []*NodeTypeInfo `json:"types"`
		Count int             `json:"count"`
	}

	// LibraryListing names the folders and entries of one library folder
	LibraryListing struct {
		Folders []string `json:"folders"`
		Entries []string `json:"entries"`
	}

	// ContextResponse carries the keys and values of one context scope
	ContextResponse struct {
		Values map[string]any `json:"values"`
		Scope  string         `json:"scope"`
	}

	// CommsRequest is sent by comms clients to change their subscriptions.
	// Topics may end in "#" to match every topic with that prefix
	CommsRequest struct {
		Subscribe   string `json:"subscribe,omitempty"`
		Unsubscribe string `json:"unsubscribe,omitempty"`
	}

	// InjectRequest optionally overrides the injected message
	InjectRequest struct {
		Msg Message `json:"msg,omitempty"`
	}

	// SettingsResponse exposes the non-sensitive runtime settings
	SettingsResponse struct {
		EditorTheme       map[string]any `json:"editorTheme,omitempty"`
		Version           string         `json:"version"`
		HTTPNodeRoot      string         `json:"httpNodeRoot"`
		PaletteCategories []string       `json:"paletteCategories,omitempty"`
		User              *User          `json:"user,omitempty"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string       `json:"service"`
		Version string       `json:"version"`
		State   RuntimeState `json:"state"`
		Uptime  string       `json:"uptime,omitempty"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}
)

// TokenTTLSeconds renders a token lifetime for a TokenResponse
func TokenTTLSeconds(ttl time.Duration) int64 {
	return int64(ttl / time.Second)
}

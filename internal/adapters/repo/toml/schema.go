package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version int           `toml:"version"`
	Drafts  []draftSchema `toml:"drafts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported drafts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

// Payloads are kept as JSON text so they survive the file unchanged.
type draftSchema struct {
	ID           string `toml:"id"`
	ToolType     string `toml:"tool_type"`
	Status       string `toml:"status"`
	AIPayload    string `toml:"ai_payload"`
	FinalPayload string `toml:"final_payload,omitempty"`
	ErrorDetail  string `toml:"error_detail,omitempty"`
	ExternalRef  string `toml:"external_ref,omitempty"`
	SessionID    string `toml:"session_id,omitempty"`
	CreatedAt    string `toml:"created_at"`
	UpdatedAt    string `toml:"updated_at"`
}

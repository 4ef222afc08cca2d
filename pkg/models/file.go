package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Membership is the tri-state inCollection value of a file record:
// absent (nil pointer) — uploaded but never referenced in a conversation;
// global — available to every chat in the context;
// scoped — available to the listed chat ids ("*" matches any).
type Membership struct {
	Global  bool
	ChatIDs []string
}

// GlobalMembership marks a record available context-wide.
func GlobalMembership() *Membership { return &Membership{Global: true} }

// ScopedMembership marks a record available to the given chats.
func ScopedMembership(chatIDs ...string) *Membership {
	return &Membership{ChatIDs: append([]string(nil), chatIDs...)}
}

// Matches reports whether the membership admits any of the filter ids.
// Global membership admits everything; a stored "*" admits any filter.
func (m *Membership) Matches(chatIDs []string) bool {
	if m == nil {
		return false
	}
	if m.Global {
		return true
	}
	for _, stored := range m.ChatIDs {
		if stored == "*" {
			return true
		}
		for _, want := range chatIDs {
			if stored == want {
				return true
			}
		}
	}
	return false
}

// Add records a chat id. Global membership absorbs the add (global stays
// global); duplicates are ignored.
func (m *Membership) Add(chatID string) {
	if m.Global {
		return
	}
	for _, existing := range m.ChatIDs {
		if existing == chatID {
			return
		}
	}
	m.ChatIDs = append(m.ChatIDs, chatID)
}

// MarshalJSON emits true for global membership, else the chat-id array.
func (m Membership) MarshalJSON() ([]byte, error) {
	if m.Global {
		return []byte("true"), nil
	}
	ids := m.ChatIDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// UnmarshalJSON accepts true or an array of chat ids.
func (m *Membership) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*m = Membership{Global: b}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("models: inCollection must be true or a chat-id array: %w", err)
	}
	*m = Membership{ChatIDs: ids}
	return nil
}

// FileRecord is the content-addressed metadata entry for a file stored in
// a context. Within one context a hash maps to at most one record;
// duplicate uploads reuse the record and append filename aliases.
type FileRecord struct {
	ID              string      `json:"id"`
	Hash            string      `json:"hash"`
	URL             string      `json:"url"`
	GCS             string      `json:"gcs,omitempty"`
	Filename        string      `json:"filename"`
	DisplayFilename string      `json:"displayFilename,omitempty"`
	MimeType        string      `json:"mimeType,omitempty"`
	Size            int64       `json:"size,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
	Tags            []string    `json:"tags,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	InCollection    *Membership `json:"inCollection,omitempty"`
	Aliases         []string    `json:"aliases,omitempty"`
}

// Placeholder renders the textual stand-in carried through chat history in
// place of raw file bytes.
func (r FileRecord) Placeholder() string {
	return fmt.Sprintf("[file: %s, hash: %s] available via file tools", r.Filename, r.Hash)
}

// StorageContext is a logical namespace owning a file collection. A
// non-empty ContextKey means records are encrypted with the user layer on
// top of the system layer.
type StorageContext struct {
	ContextID  string `json:"contextId" yaml:"contextId"`
	ContextKey string `json:"contextKey,omitempty" yaml:"contextKey"`
	Default    bool   `json:"default,omitempty" yaml:"default"`
}

// AgentContext is an ordered list of contexts; the first marked default
// (or the first overall) receives writes.
type AgentContext []StorageContext

// WriteTarget returns the context that receives writes.
func (a AgentContext) WriteTarget() (StorageContext, bool) {
	if len(a) == 0 {
		return StorageContext{}, false
	}
	for _, c := range a {
		if c.Default {
			return c, true
		}
	}
	return a[0], true
}

// Package response implements the AI response document for a project:
// the conversation transcript plus the canonical, user-editable estimate
// sections, persisted as one JSON blob per project in object storage.
package response

import (
	"encoding/json"
	"fmt"
)

// Entry is a single conversation turn. Question and answer are both
// optional; an edit may record only one side.
type Entry struct {
	Question  string `json:"question,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Document is the persisted response document. Conversation is
// append-only. AnswerJSON maps estimate section names to arbitrary JSON
// values; unknown section names are kept as-is. Top-level fields beyond
// the known ones survive round trips through Extra.
type Document struct {
	Conversation []Entry
	AnswerJSON   map[string]any
	Version      int64
	Extra        map[string]any
}

// NewDocument returns the empty skeleton used when no document exists
// yet for a project.
func NewDocument() *Document {
	return &Document{Conversation: []Entry{}}
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+3)
	for k, v := range d.Extra {
		out[k] = v
	}
	conversation := d.Conversation
	if conversation == nil {
		conversation = []Entry{}
	}
	out["conversation"] = conversation
	if d.AnswerJSON != nil {
		out["answer_json"] = d.AnswerJSON
	}
	if d.Version > 0 {
		out["version"] = d.Version
	}
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse response document: %w", err)
	}

	d.Conversation = []Entry{}
	d.AnswerJSON = nil
	d.Version = 0
	d.Extra = nil

	for key, value := range raw {
		switch key {
		case "conversation":
			entries, ok := value.([]any)
			if !ok {
				continue
			}
			d.Conversation = make([]Entry, 0, len(entries))
			for _, item := range entries {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				entry := Entry{}
				if q, ok := obj["question"].(string); ok {
					entry.Question = q
				}
				if a, ok := obj["answer"].(string); ok {
					entry.Answer = a
				}
				if ts, ok := obj["timestamp"].(string); ok {
					entry.Timestamp = ts
				}
				d.Conversation = append(d.Conversation, entry)
			}
		case "answer_json":
			if obj, ok := value.(map[string]any); ok {
				d.AnswerJSON = obj
			}
		case "version":
			if num, ok := value.(float64); ok {
				d.Version = int64(num)
			}
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			d.Extra[key] = value
		}
	}
	return nil
}

// Encode serializes the document the way it is persisted:
// pretty-printed, human-readable JSON.
func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// DefaultPath is the deterministic storage path for a project's
// response document when the project record carries none.
func DefaultPath(projectID string) string {
	return fmt.Sprintf("project_%s/ai_response.json", projectID)
}

// EstimationTablePath addresses the standalone estimation table blob
// maintained next to the response document.
func EstimationTablePath(projectID string) string {
	return fmt.Sprintf("project_%s/estimation_table.json", projectID)
}

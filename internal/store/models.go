package store

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Company      string    `json:"company"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProjectFile describes one uploaded document attached to a project.
// Path addresses the stored blob.
type ProjectFile struct {
	Name       string         `json:"name"`
	Type       string         `json:"type,omitempty"`
	Path       string         `json:"path"`
	UploadedAt time.Time      `json:"uploaded_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Project struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	OwnerID        string        `json:"ownerId"`
	Files          []ProjectFile `json:"files"`
	PDFPath        string        `json:"pdfPath,omitempty"`
	AIResponsePath string        `json:"aiResponsePath,omitempty"`
	Model          string        `json:"model,omitempty"`
	Temperature    *float64      `json:"temperature,omitempty"`
	CustomPrompt   string        `json:"customPrompt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

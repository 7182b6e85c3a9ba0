package model

import (
	"path/filepath"
	"strings"
)

// QuestionType enumerates the supported question kinds. The value doubles as
// the tipe_soal field on the wire.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multipleChoice"
	QuestionTypeShortText      QuestionType = "shortText"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeDocumentUpload QuestionType = "documentUpload"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeShortText, QuestionTypeEssay, QuestionTypeDocumentUpload:
		return true
	}
	return false
}

// Option is a multiple-choice option. Its ID is stable and is the answer value.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// DocumentConstraints limit what a documentUpload question accepts.
// Zero MaxSizeMB or MaxCount means unlimited; an empty AllowedTypes list
// means any extension.
type DocumentConstraints struct {
	AllowedTypes []string `json:"allowed_types"`
	MaxSizeMB    float64  `json:"max_size_mb"`
	MaxCount     int      `json:"max_count"`
}

// MaxBytes converts MaxSizeMB to bytes; zero means unlimited.
func (d *DocumentConstraints) MaxBytes() int64 {
	if d == nil || d.MaxSizeMB <= 0 {
		return 0
	}
	return int64(d.MaxSizeMB * 1024 * 1024)
}

// Allows reports whether filename's extension is accepted.
func (d *DocumentConstraints) Allows(filename string) bool {
	if d == nil || len(d.AllowedTypes) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, t := range d.AllowedTypes {
		if NormalizeExtension(t) == ext {
			return true
		}
	}
	return false
}

// NormalizeExtension lowercases an extension and ensures the leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// Question is a single exam question as seen by the participant.
type Question struct {
	ID       string               `json:"id"`
	Type     QuestionType         `json:"type"`
	Prompt   string               `json:"prompt"`
	ImageURL string               `json:"image_url,omitempty"`
	Options  []Option             `json:"options,omitempty"`
	Document *DocumentConstraints `json:"document,omitempty"`
}

// OptionByID looks up an option by its stable identifier.
func (q *Question) OptionByID(id string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

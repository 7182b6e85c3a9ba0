package model

import (
	"encoding/json"
	"fmt"
)

// Answer is the typed answer for one question. Value carries the selected
// option id or free text; Paths carries the server paths of uploaded
// documents. Encode/DecodeAnswer convert to and from the string form used in
// persisted progress and on the wire.
type Answer struct {
	Type  QuestionType
	Value string
	Paths []string
}

// OptionAnswer selects a multiple-choice option.
func OptionAnswer(optionID string) Answer {
	return Answer{Type: QuestionTypeMultipleChoice, Value: optionID}
}

// TextAnswer is a shortText or essay answer.
func TextAnswer(t QuestionType, text string) Answer {
	return Answer{Type: t, Value: text}
}

// DocumentAnswer is a documentUpload answer listing server file paths.
func DocumentAnswer(paths []string) Answer {
	cp := make([]string, len(paths))
	copy(cp, paths)
	return Answer{Type: QuestionTypeDocumentUpload, Paths: cp}
}

// IsEmpty reports whether the answer counts as unanswered.
func (a Answer) IsEmpty() bool {
	if a.Type == QuestionTypeDocumentUpload {
		return len(a.Paths) == 0
	}
	return a.Value == ""
}

// Encode returns the boundary string form. Document answers always encode as
// a JSON array, "[]" when empty.
func (a Answer) Encode() string {
	if a.Type != QuestionTypeDocumentUpload {
		return a.Value
	}
	paths := a.Paths
	if paths == nil {
		paths = []string{}
	}
	raw, _ := json.Marshal(paths)
	return string(raw)
}

// DecodeAnswer parses the boundary string form for a question of type t.
func DecodeAnswer(t QuestionType, raw string) (Answer, error) {
	if t != QuestionTypeDocumentUpload {
		return Answer{Type: t, Value: raw}, nil
	}
	if raw == "" {
		return DocumentAnswer(nil), nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return Answer{}, fmt.Errorf("decode document answer: %w", err)
	}
	return DocumentAnswer(paths), nil
}

// DraftAnswer is one entry of the jawaban array sent to /draft and /submit.
type DraftAnswer struct {
	QuestionID   string       `json:"question_id" binding:"required,max=64"`
	QuestionType QuestionType `json:"tipe_soal" binding:"required,question_type"`
	Text         string       `json:"jawaban_text"`
}

// AnswerSubmission is the body of POST /draft and POST /submit.
type AnswerSubmission struct {
	ParticipantID string        `json:"participant_id" binding:"required,max=64"`
	ExamID        string        `json:"exam_id" binding:"required,max=64"`
	Answers       []DraftAnswer `json:"jawaban" binding:"dive"`
}

// UploadedFile is a document already stored on the server.
type UploadedFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Uploaded bool   `json:"uploaded"`
}

// UploadResult is the data returned by POST /upload.
type UploadResult struct {
	FilePath string `json:"filePath"`
	FileName string `json:"fileName"`
}

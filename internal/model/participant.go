package model

// Identity is the logged-in participant, obtained by exchanging a single-use
// login code. It is persisted on the device until final submission.
type Identity struct {
	ParticipantID string `json:"participant_id"`
	ExamID        string `json:"exam_id"`
	Name          string `json:"name"`
	Token         string `json:"token"`
}

// Valid reports whether the identity carries everything a session needs.
func (i *Identity) Valid() bool {
	return i != nil && i.ParticipantID != "" && i.ExamID != "" && i.Token != ""
}

// LoginRequest is the payload for exchanging a login code.
type LoginRequest struct {
	LoginCode string `json:"login_code" binding:"required,min=4,max=64"`
}

// Invitation binds a participant to an exam through a login code.
// Only the backend stub reads it.
type Invitation struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	LoginCode     string `json:"login_code"`
}

// StubExam is one entry of the backend stub's exams file.
type StubExam struct {
	ExamDefinition
	Invitations []Invitation `json:"invitations"`
}

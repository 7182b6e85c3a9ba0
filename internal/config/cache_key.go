package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ─── Participant session store ─────────────────────────────────────────

// LoginKey returns the key holding the identity of the participant logged in on this device
func (r *CacheKeyStruct) LoginKey() string {
	return "participant:login"
}

// SessionScopePrefix returns the prefix shared by every key of one participant+exam session
func (r *CacheKeyStruct) SessionScopePrefix(participantID, examID string) string {
	return fmt.Sprintf("participant:%s:exam:%s:", participantID, examID)
}

// ProgressKey returns the key for a participant's persisted exam progress
func (r *CacheKeyStruct) ProgressKey(participantID, examID string) string {
	return r.SessionScopePrefix(participantID, examID) + "progress"
}

// QuestionOrderKey returns the key for a participant's frozen question order
func (r *CacheKeyStruct) QuestionOrderKey(participantID, examID string) string {
	return r.SessionScopePrefix(participantID, examID) + "question_order"
}

// OptionOrderKey returns the key for a participant's frozen option order of one question
func (r *CacheKeyStruct) OptionOrderKey(participantID, examID, questionID string) string {
	return r.SessionScopePrefix(participantID, examID) + fmt.Sprintf("question:%s:option_order", questionID)
}

// ─── Backend stub ──────────────────────────────────────────────────────

// DraftAnswersKey returns the hash key holding a participant's latest answers on the stub
func (r *CacheKeyStruct) DraftAnswersKey(participantID, examID string) string {
	return fmt.Sprintf("stub:participant:%s:exam:%s:answers", participantID, examID)
}

// AttemptClosedKey returns the key marking a participant's attempt as submitted
func (r *CacheKeyStruct) AttemptClosedKey(participantID, examID string) string {
	return fmt.Sprintf("stub:participant:%s:exam:%s:closed", participantID, examID)
}

// LoginCodeUsedKey returns the key marking an invitation's login code as consumed
func (r *CacheKeyStruct) LoginCodeUsedKey(participantID, examID string) string {
	return fmt.Sprintf("stub:participant:%s:exam:%s:login_used", participantID, examID)
}

var CacheKey = NewCacheKeyStruct()

package model

import (
	"errors"
	"fmt"
	"time"
)

// ExamDefinition is the participant-facing exam as served by GET /exam/{id}.
// It is immutable once fetched.
type ExamDefinition struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	StartDate        string     `json:"start_date"`
	StartTime        string     `json:"start_time"`
	EndDate          string     `json:"end_date"`
	EndTime          string     `json:"end_time"`
	DurationMinutes  int        `json:"duration_minutes"`
	ShuffleQuestions bool       `json:"acak_soal"`
	ShuffleOptions   bool       `json:"acak_opsi"`
	Questions        []Question `json:"questions"`
}

const (
	dateLayout        = "2006-01-02"
	timeLayout        = "15:04"
	timeLayoutSeconds = "15:04:05"
)

// Window parses the access-window bounds in loc. A missing start time means
// the start of the day; a missing end time means the last second of the day.
func (e *ExamDefinition) Window(loc *time.Location) (time.Time, time.Time, error) {
	start, err := parseDateTime(e.StartDate, e.StartTime, "00:00:00", loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("window start: %w", err)
	}
	end, err := parseDateTime(e.EndDate, e.EndTime, "23:59:59", loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("window end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("window ends before it starts")
	}
	return start, end, nil
}

// Duration returns the per-participant working time.
func (e *ExamDefinition) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// QuestionByID looks up a question by its identifier.
func (e *ExamDefinition) QuestionByID(id string) (*Question, bool) {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i], true
		}
	}
	return nil, false
}

func parseDateTime(date, clock, fallbackClock string, loc *time.Location) (time.Time, error) {
	if date == "" {
		return time.Time{}, errors.New("date is required")
	}
	if clock == "" {
		clock = fallbackClock
	}
	layout := dateLayout + " " + timeLayout
	if len(clock) == len(timeLayoutSeconds) {
		layout = dateLayout + " " + timeLayoutSeconds
	}
	t, err := time.ParseInLocation(layout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

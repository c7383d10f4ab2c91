package domain

import (
	"errors"
	"sort"
	"strings"
)

// Submission is the payload of one attempt. It is either a QuizSubmission or a TaskSubmission.
type Submission interface {
	isSubmission()
}

// QuizSubmission maps question ids to selected choice ids. Unanswered questions are absent.
type QuizSubmission struct {
	Selections map[string][]string `json:"selections"`
}

// TaskSubmission carries the free-form answer of a task.
type TaskSubmission struct {
	Text string      `json:"text,omitempty"`
	File *Attachment `json:"-"`
}

func (QuizSubmission) isSubmission() {}
func (TaskSubmission) isSubmission() {}

// Attachment is an in-memory file handle attached to a task attempt.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// PDF reports whether the attachment looks like a PDF document.
func (a Attachment) PDF() bool {
	if a.ContentType == "application/pdf" {
		return true
	}
	return len(a.Data) >= 5 && string(a.Data[:5]) == "%PDF-"
}

// Answered returns the ids of questions with a non-empty selection, sorted.
func (s QuizSubmission) Answered() []string {
	ids := make([]string, 0, len(s.Selections))
	for id, choices := range s.Selections {
		if len(choices) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ValidateTask checks a task answer against the submission type. It returns a *ValidationError
// listing every missing or unacceptable part.
func ValidateTask(kind SubmissionType, text string, file *Attachment) error {
	var fields []FieldError
	if kind.RequiresText() && strings.TrimSpace(text) == "" {
		fields = append(fields, FieldError{Field: "text", Error: "a written answer is required"})
	}
	if kind.RequiresFile() {
		switch {
		case file == nil:
			fields = append(fields, FieldError{Field: "file", Error: "a PDF file is required"})
		case !file.PDF():
			fields = append(fields, FieldError{Field: "file", Error: "only PDF files are accepted"})
		}
	}
	if len(fields) > 0 {
		return NewValidationError(errors.New("submission incomplete"), fields...)
	}
	return nil
}

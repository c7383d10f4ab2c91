package domain

import "time"

// ActivityKind distinguishes quizzes (choice questions) from tasks (free-form submission).
type ActivityKind string

const (
	KindQuiz ActivityKind = "quiz"
	KindTask ActivityKind = "task"
)

// Visibility controls when scores or correct answers are revealed to the student.
type Visibility string

const (
	VisibleImmediate  Visibility = "immediate"
	VisibleAfterClose Visibility = "after_close"
	VisibleManual     Visibility = "manual"
)

// QuestionOrder is applied once when an attempt starts.
type QuestionOrder string

const (
	OrderCreated QuestionOrder = "created"
	OrderRandom  QuestionOrder = "random"
)

// SelectionType is the cardinality of a question's answer set.
type SelectionType string

const (
	SelectSingle   SelectionType = "single"
	SelectMultiple SelectionType = "multiple"
)

// SubmissionType governs what a task attempt must carry.
type SubmissionType string

const (
	SubmitText SubmissionType = "text"
	SubmitPDF  SubmissionType = "pdf"
	SubmitBoth SubmissionType = "both"
)

// RequiresText reports whether the submission type needs a text answer.
func (t SubmissionType) RequiresText() bool { return t == SubmitText || t == SubmitBoth }

// RequiresFile reports whether the submission type needs an attached file.
func (t SubmissionType) RequiresFile() bool { return t == SubmitPDF || t == SubmitBoth }

// Choice represents a possible answer for a question.
// Correct is only authoritative server-side.
type Choice struct {
	ID       string `json:"id" validate:"required"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
	Correct  bool   `json:"correct,omitempty"`
}

// Question models a choice question.
type Question struct {
	ID        string        `json:"id" validate:"required"`
	Prompt    string        `json:"prompt"`
	ImageURL  string        `json:"imageUrl,omitempty"`
	Selection SelectionType `json:"selection" validate:"oneof=single multiple"`
	Choices   []Choice      `json:"choices" validate:"min=1,dive"`
	Points    int           `json:"points" validate:"gte=0"` // defaults to 1 if zero
}

// Activity is a quiz or task definition. It is read-only for the duration of an attempt.
type Activity struct {
	ID               string         `json:"id" validate:"required"`
	Kind             ActivityKind   `json:"kind" validate:"oneof=quiz task"`
	Title            string         `json:"title"`
	Questions        []Question     `json:"questions" validate:"required_if=Kind quiz,dive"`
	TimeLimitSeconds int            `json:"timeLimitSeconds" validate:"gte=0"`
	ScoreVisibility  Visibility     `json:"scoreVisibility" validate:"omitempty,oneof=immediate after_close manual"`
	AnswerVisibility Visibility     `json:"answerVisibility" validate:"omitempty,oneof=immediate after_close manual"`
	QuestionOrder    QuestionOrder  `json:"questionOrder" validate:"omitempty,oneof=created random"`
	SubmissionType   SubmissionType `json:"submissionType,omitempty" validate:"required_if=Kind task,omitempty,oneof=text pdf both"`
}

// Timed reports whether the activity declares a positive time limit.
func (a Activity) Timed() bool { return a.TimeLimitSeconds > 0 }

// Question looks up a question by id.
func (a Activity) Question(id string) (Question, bool) {
	for _, q := range a.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// HasChoice reports whether choiceID belongs to the question.
func (q Question) HasChoice(choiceID string) bool {
	for _, c := range q.Choices {
		if c.ID == choiceID {
			return true
		}
	}
	return false
}

// WithoutAnswerKey returns a copy of the activity with every correctness flag cleared.
func (a Activity) WithoutAnswerKey() Activity {
	out := a
	out.Questions = make([]Question, len(a.Questions))
	for i, q := range a.Questions {
		q.Choices = append([]Choice(nil), q.Choices...)
		for j := range q.Choices {
			q.Choices[j].Correct = false
		}
		out.Questions[i] = q
	}
	return out
}

// SubmissionResult is what the backend returns for an accepted attempt.
// Score and MaxScore are only set when scores are visible immediately.
type SubmissionResult struct {
	AttemptID   string    `json:"attemptId"`
	ActivityID  string    `json:"activityId"`
	SubmittedAt time.Time `json:"submittedAt"`
	Score       *float64  `json:"score,omitempty"`
	MaxScore    *float64  `json:"maxScore,omitempty"`
}

// CaptureMethod records how an attendance check-in was taken.
type CaptureMethod string

const (
	CaptureQR     CaptureMethod = "qr"
	CaptureManual CaptureMethod = "manual"
)

// AttendanceRecord is one check-in waiting in the local queue.
type AttendanceRecord struct {
	StudentID    string        `json:"studentId" validate:"required"`
	Name         string        `json:"name" validate:"required"`
	Grade        string        `json:"grade"`
	Center       string        `json:"center"`
	Method       CaptureMethod `json:"method" validate:"oneof=qr manual"`
	HomeworkDone *bool         `json:"homeworkDone,omitempty"`
	CapturedAt   time.Time     `json:"capturedAt" validate:"required"`
}

// AttendanceBatch is the unit delivered to the backend in one flush.
// ID stays stable across retries of the same batch.
type AttendanceBatch struct {
	ID      string             `json:"id"`
	Records []AttendanceRecord `json:"records"`
}

// Attempt is the backend's record of one accepted submission.
type Attempt struct {
	ID          string              `json:"id"`
	ActivityID  string              `json:"activityId"`
	StudentID   string              `json:"studentId"`
	Selections  map[string][]string `json:"selections,omitempty"`
	Text        string              `json:"text,omitempty"`
	FileName    string              `json:"fileName,omitempty"`
	File        []byte              `json:"-"`
	Score       float64             `json:"score"`
	MaxScore    float64             `json:"maxScore"`
	SubmittedAt time.Time           `json:"submittedAt"`
}

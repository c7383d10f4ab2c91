package backend

import (
	"github.com/pkg/errors"

	"school-session-agent/internal/domain"
)

// Grade scores a quiz submission. A question earns its points (1 when unset) only when the
// selected set equals the set of correct choices. Unknown ids make the submission invalid.
func Grade(act domain.Activity, sub domain.QuizSubmission) (score, maxScore float64, err error) {
	for questionID, choices := range sub.Selections {
		q, ok := act.Question(questionID)
		if !ok {
			return 0, 0, invalidSelection(questionID, domain.ErrQuestionNotFound)
		}
		for _, choiceID := range choices {
			if !q.HasChoice(choiceID) {
				return 0, 0, invalidSelection(questionID, domain.ErrChoiceNotFound)
			}
		}
		if q.Selection == domain.SelectSingle && len(choices) > 1 {
			return 0, 0, invalidSelection(questionID, errors.New("single-choice question has several answers"))
		}
	}

	for _, q := range act.Questions {
		points := float64(q.Points)
		if points == 0 {
			points = 1
		}
		maxScore += points
		if sameChoices(correctChoices(q), sub.Selections[q.ID]) {
			score += points
		}
	}
	return score, maxScore, nil
}

func correctChoices(q domain.Question) map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range q.Choices {
		if c.Correct {
			out[c.ID] = struct{}{}
		}
	}
	return out
}

func sameChoices(correct map[string]struct{}, selected []string) bool {
	if len(correct) == 0 || len(selected) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := correct[id]; !ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return len(seen) == len(correct)
}

func invalidSelection(questionID string, err error) error {
	return domain.NewValidationError(errors.Wrapf(err, "question %s", questionID),
		domain.FieldError{Field: "selections." + questionID, Error: err.Error()})
}

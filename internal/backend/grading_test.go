package backend

import (
	"errors"
	"testing"

	"school-session-agent/internal/domain"
)

func TestGrade(t *testing.T) {
	act := domain.Activity{
		ID:   "quiz-1",
		Kind: domain.KindQuiz,
		Questions: []domain.Question{
			{ID: "q1", Selection: domain.SelectSingle, Points: 2, Choices: []domain.Choice{{ID: "a"}, {ID: "b", Correct: true}}},
			{ID: "q2", Selection: domain.SelectMultiple, Choices: []domain.Choice{{ID: "x", Correct: true}, {ID: "y", Correct: true}, {ID: "z"}}},
		},
	}

	tests := []struct {
		name       string
		selections map[string][]string
		wantScore  float64
		wantErr    bool
	}{
		{name: "empty", selections: nil, wantScore: 0},
		{name: "single correct", selections: map[string][]string{"q1": {"b"}}, wantScore: 2},
		{name: "single wrong", selections: map[string][]string{"q1": {"a"}}, wantScore: 0},
		{name: "multiple exact", selections: map[string][]string{"q2": {"y", "x"}}, wantScore: 1},
		{name: "multiple partial", selections: map[string][]string{"q2": {"x"}}, wantScore: 0},
		{name: "multiple extra", selections: map[string][]string{"q2": {"x", "y", "z"}}, wantScore: 0},
		{name: "all correct", selections: map[string][]string{"q1": {"b"}, "q2": {"x", "y"}}, wantScore: 3},
		{name: "unknown question", selections: map[string][]string{"q9": {"a"}}, wantErr: true},
		{name: "unknown choice", selections: map[string][]string{"q1": {"nope"}}, wantErr: true},
		{name: "two answers on single", selections: map[string][]string{"q1": {"a", "b"}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			score, maxScore, err := Grade(act, domain.QuizSubmission{Selections: tc.selections})
			if tc.wantErr {
				var verr *domain.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if score != tc.wantScore || maxScore != 3 {
				t.Fatalf("expected %v/3, got %v/%v", tc.wantScore, score, maxScore)
			}
		})
	}
}

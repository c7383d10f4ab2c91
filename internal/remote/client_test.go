package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-session-agent/internal/domain"
)

func TestLoadActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/activities/quiz-1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(domain.Activity{ID: "quiz-1", Kind: domain.KindQuiz, TimeLimitSeconds: 30})
	}))
	defer srv.Close()

	act, err := New(srv.URL).LoadActivity(context.Background(), "quiz-1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "quiz-1", act.ID)
	assert.Equal(t, 30, act.TimeLimitSeconds)
}

func TestLoadActivityStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, want: domain.ErrActivityNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, want: domain.ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, want: domain.ErrUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := New(srv.URL).LoadActivity(context.Background(), "x", "")
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := New(srv.URL).LoadActivity(context.Background(), "x", "")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "boom", statusErr.Body)
}

func TestSubmitQuizAsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/activities/quiz-1/attempts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body domain.QuizSubmission
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"c2"}, body.Selections["q1"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.SubmissionResult{AttemptID: "a-1", ActivityID: "quiz-1", SubmittedAt: time.Now()})
	}))
	defer srv.Close()

	res, err := New(srv.URL).SubmitAttempt(context.Background(), "quiz-1",
		domain.QuizSubmission{Selections: map[string][]string{"q1": {"c2"}}}, "tok")
	require.NoError(t, err)
	assert.Equal(t, "a-1", res.AttemptID)
	assert.Nil(t, res.Score)
}

func TestSubmitTaskAsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "my essay", r.FormValue("text"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "essay.pdf", hdr.Filename)
		assert.Equal(t, "application/pdf", hdr.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.7", string(data))

		_ = json.NewEncoder(w).Encode(domain.SubmissionResult{AttemptID: "a-2"})
	}))
	defer srv.Close()

	sub := domain.TaskSubmission{
		Text: "my essay",
		File: &domain.Attachment{Name: "essay.pdf", Data: []byte("%PDF-1.7")},
	}
	res, err := New(srv.URL).SubmitAttempt(context.Background(), "task-1", sub, "")
	require.NoError(t, err)
	assert.Equal(t, "a-2", res.AttemptID)
}

func TestSubmitBatchSendsIdempotencyKey(t *testing.T) {
	var got domain.AttendanceBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/attendance/sessions/session-1/records", r.URL.Path)
		assert.Equal(t, "batch-9", r.Header.Get(IdempotencyHeader))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	batch := domain.AttendanceBatch{ID: "batch-9", Records: []domain.AttendanceRecord{{StudentID: "s1", Name: "Ana", Method: domain.CaptureManual}}}
	require.NoError(t, New(srv.URL).SubmitBatch(context.Background(), "session-1", batch, "tok"))
	require.Len(t, got.Records, 1)
	assert.Equal(t, "s1", got.Records[0].StudentID)
}

func TestSubmitBatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL).SubmitBatch(context.Background(), "s", domain.AttendanceBatch{ID: "b"}, "")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := New(addr).SubmitBatch(context.Background(), "s", domain.AttendanceBatch{ID: "b"}, "")
	require.Error(t, err)
}

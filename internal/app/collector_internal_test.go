package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"school-session-agent/internal/domain"
)

type countingClient struct {
	mu      sync.Mutex
	submits int
}

func (c *countingClient) LoadActivity(context.Context, string, string) (domain.Activity, error) {
	return domain.Activity{
		ID:   "quiz-1",
		Kind: domain.KindQuiz,
		Questions: []domain.Question{{
			ID: "q1", Selection: domain.SelectSingle,
			Choices: []domain.Choice{{ID: "c1"}, {ID: "c2"}},
		}},
	}, nil
}

func (c *countingClient) SubmitAttempt(_ context.Context, id string, _ domain.Submission, _ string) (domain.SubmissionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	return domain.SubmissionResult{AttemptID: "a1", ActivityID: id}, nil
}

func TestExpiryFiresSubmitOnce(t *testing.T) {
	client := &countingClient{}
	c := NewCollector(client, CollectorOptions{})
	defer c.Close()
	if err := c.Start(context.Background(), "quiz-1", "token"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = c.SelectAnswer("q1", "c2")

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	c.onExpire(gen)
	c.onExpire(gen)

	if client.submits != 1 {
		t.Fatalf("expected one submit, got %d", client.submits)
	}
	if err := c.SelectAnswer("q1", "c1"); err != domain.ErrNotInProgress {
		t.Fatalf("expected answers frozen, got %v", err)
	}
}

func TestExpiryFromStaleGenerationIgnored(t *testing.T) {
	client := &countingClient{}
	c := NewCollector(client, CollectorOptions{})
	defer c.Close()
	if err := c.Start(context.Background(), "quiz-1", "token"); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.mu.Lock()
	old := c.gen
	c.mu.Unlock()
	if err := c.Start(context.Background(), "quiz-1", "token"); err != nil {
		t.Fatalf("restart: %v", err)
	}

	c.onExpire(old)
	if client.submits != 0 {
		t.Fatalf("expiry of a replaced attempt must not submit, got %d", client.submits)
	}
	if c.Snapshot().Expired {
		t.Fatalf("new attempt marked expired by stale timer")
	}
}

func TestExpiryDuringSubmitDoesNotResubmit(t *testing.T) {
	client := &countingClient{}
	c := NewCollector(client, CollectorOptions{})
	defer c.Close()
	if err := c.Start(context.Background(), "quiz-1", "token"); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.mu.Lock()
	c.status = StatusSubmitting
	gen := c.gen
	c.mu.Unlock()

	c.onExpire(gen)
	if client.submits != 0 {
		t.Fatalf("expiry during an in-flight submit must not fire another, got %d", client.submits)
	}
	if !c.Snapshot().Expired {
		t.Fatalf("expected expiry to be recorded")
	}
}

type flakyTaskClient struct {
	mu      sync.Mutex
	fail    bool
	submits int
	last    domain.Submission
}

func (c *flakyTaskClient) LoadActivity(context.Context, string, string) (domain.Activity, error) {
	return domain.Activity{
		ID:               "essay-1",
		Kind:             domain.KindTask,
		SubmissionType:   domain.SubmitText,
		TimeLimitSeconds: 60,
	}, nil
}

func (c *flakyTaskClient) SubmitAttempt(_ context.Context, id string, sub domain.Submission, _ string) (domain.SubmissionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	c.last = sub
	if c.fail {
		return domain.SubmissionResult{}, errors.New("backend unavailable")
	}
	return domain.SubmissionResult{AttemptID: "a1", ActivityID: id}, nil
}

func (c *flakyTaskClient) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func TestExpiredTaskCanBeResubmittedAfterFailedAutoSubmit(t *testing.T) {
	client := &flakyTaskClient{fail: true}
	c := NewCollector(client, CollectorOptions{})
	defer c.Close()
	if err := c.Start(context.Background(), "essay-1", "token"); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	// Nothing was written before time ran out; the automatic submit fails.
	c.onExpire(gen)
	if snap := c.Snapshot(); snap.Status != StatusInProgress || !snap.Expired {
		t.Fatalf("expected expired attempt back in progress, got %+v", snap)
	}
	if err := c.SetText("too late"); !errors.Is(err, domain.ErrTimeExpired) {
		t.Fatalf("expected frozen answers, got %v", err)
	}

	client.setFail(false)
	res, err := c.Submit(context.Background())
	if err != nil {
		t.Fatalf("manual retry after expiry: %v", err)
	}
	if res.AttemptID != "a1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if client.submits != 2 {
		t.Fatalf("expected the retry to reach the backend, got %d calls", client.submits)
	}
	if sub := client.last.(domain.TaskSubmission); sub.Text != "" {
		t.Fatalf("expected the empty answer collected before expiry, got %q", sub.Text)
	}
	if st := c.Snapshot().Status; st != StatusSubmitted {
		t.Fatalf("expected submitted, got %s", st)
	}
}

package agent

import (
	"context"
	"testing"
	"time"
)

func TestQuestionResolveDeliversAnswer(t *testing.T) {
	q := NewQuestions()
	question := q.Open("pick one", []string{"a", "b"})

	go func() {
		if !q.Resolve(question.ID, "a") {
			t.Error("expected Resolve to succeed")
		}
	}()

	answer, err := q.Wait(context.Background(), question)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if answer != "a" {
		t.Errorf("expected answer 'a', got %q", answer)
	}
}

func TestQuestionResolveIsSingleShot(t *testing.T) {
	q := NewQuestions()
	question := q.Open("pick one", nil)

	if !q.Resolve(question.ID, "a") {
		t.Fatal("expected first Resolve to succeed")
	}
	if q.Resolve(question.ID, "b") {
		t.Error("expected second Resolve on the same id to fail")
	}
}

func TestQuestionWaitTimesOut(t *testing.T) {
	q := NewQuestionsWithTTL(20 * time.Millisecond)
	question := q.Open("pick one", nil)

	_, err := q.Wait(context.Background(), question)
	if err == nil {
		t.Fatal("expected a timeout error")
	}

	if q.Resolve(question.ID, "late") {
		t.Error("expected the expired question to no longer be resolvable")
	}
}

func TestQuestionWaitRespectsContextCancellation(t *testing.T) {
	q := NewQuestions()
	question := q.Open("pick one", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Wait(ctx, question)
	if err == nil {
		t.Fatal("expected context cancellation to end the wait")
	}
}

package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChordAllPartsComplete(t *testing.T) {
	c := NewChord(3)
	c.Complete(2, "third", nil)
	c.Complete(0, "first", nil)
	c.Complete(1, "second", nil)

	results, err := c.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	want := []string{"first", "second", "third"}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if r.Payload != want[i] {
			t.Errorf("result %d payload = %v, want %q", i, r.Payload, want[i])
		}
	}
}

func TestChordTimeoutReturnsPartialResults(t *testing.T) {
	c := NewChord(2)
	c.Complete(0, "done", nil)

	results, err := c.Wait(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrChordTimeout) {
		t.Fatalf("Wait() error = %v, want ErrChordTimeout", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Payload != "done" {
		t.Errorf("completed part lost: %+v", results[0])
	}
	if results[1].Payload != nil {
		t.Errorf("missing part should have zero payload, got %v", results[1].Payload)
	}
}

func TestChordIgnoresDuplicatesAndOutOfRange(t *testing.T) {
	c := NewChord(2)
	c.Complete(0, "first", nil)
	c.Complete(0, "overwrite", nil)
	c.Complete(-1, "bad", nil)
	c.Complete(5, "bad", nil)
	c.Complete(1, "second", nil)

	results, err := c.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if results[0].Payload != "first" {
		t.Errorf("duplicate completion overwrote result: %v", results[0].Payload)
	}
}

func TestChordZeroParts(t *testing.T) {
	c := NewChord(0)
	results, err := c.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestChordCarriesPartErrors(t *testing.T) {
	partErr := errors.New("beat failed")
	c := NewChord(1)
	c.Complete(0, nil, partErr)

	results, err := c.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !errors.Is(results[0].Err, partErr) {
		t.Errorf("part error lost: %v", results[0].Err)
	}
}

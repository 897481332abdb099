package writer

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/henribesnard/novellaforge/internal/config"
	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/queue"
)

func testBase() *BasePrompt {
	return &BasePrompt{
		Genre:        "fantasy",
		Concept:      "a village with a door to nowhere",
		ChapterTitle: "The Door",
		ChapterIndex: 3,
	}
}

func TestWriteSequential(t *testing.T) {
	mock := &llm.MockClient{Responses: []llm.MockResponse{
		{Content: "First beat prose."},
		{Content: "Second beat prose."},
	}}
	w := New(mock, "test-model", nil, config.WriterConfig{MinBeatWords: 10}, nil)

	res, err := w.Write(context.Background(), &Request{
		Base:        testBase(),
		Beats:       []string{"the door opens", "someone steps through"},
		TargetWords: 1000,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Strategy != StrategySequential {
		t.Errorf("strategy = %q, want sequential", res.Strategy)
	}
	if res.Content != "First beat prose.\n\nSecond beat prose." {
		t.Errorf("content = %q", res.Content)
	}
	if res.FailedBeats != 0 {
		t.Errorf("failed beats = %d", res.FailedBeats)
	}
}

func TestWriteSequentialEarlyStop(t *testing.T) {
	long := strings.Repeat("word ", 200) // 200 words, past 95% of a 100-word target
	mock := &llm.MockClient{Responses: []llm.MockResponse{{Content: long}}}
	w := New(mock, "test-model", nil, config.WriterConfig{
		MinBeatWords:   10,
		EarlyStopRatio: 0.95,
	}, nil)

	res, err := w.Write(context.Background(), &Request{
		Base:        testBase(),
		Beats:       []string{"a", "b", "c"},
		TargetWords: 100,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected early stop after 1 beat, got %d calls", mock.CallCount())
	}
	if res.BeatTexts[1] != "" || res.BeatTexts[2] != "" {
		t.Errorf("skipped beats should be empty: %v", res.BeatTexts)
	}
}

func TestWriteParallelPreservesOrder(t *testing.T) {
	mock := &llm.MockClient{Match: map[string]string{
		"> 1. beat alpha": "Alpha prose.",
		"> 2. beat beta":  "Beta prose.",
		"> 3. beat gamma": "Gamma prose.",
	}}
	w := New(mock, "test-model", nil, config.WriterConfig{
		MinBeatWords:  10,
		ParallelBeats: true,
	}, nil)

	res, err := w.Write(context.Background(), &Request{
		Base:        testBase(),
		Beats:       []string{"beat alpha", "beat beta", "beat gamma"},
		TargetWords: 900,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Strategy != StrategyParallel {
		t.Errorf("strategy = %q, want parallel", res.Strategy)
	}
	if res.Content != "Alpha prose.\n\nBeta prose.\n\nGamma prose." {
		t.Errorf("beat order lost: %q", res.Content)
	}
}

func TestWritePartialRevision(t *testing.T) {
	mock := &llm.MockClient{Default: "Revised finale."}
	w := New(mock, "test-model", nil, config.WriterConfig{
		MinBeatWords:    10,
		PartialRevision: true,
		ParallelBeats:   true,
	}, nil)

	res, err := w.Write(context.Background(), &Request{
		Base:          testBase(),
		Beats:         []string{"a", "b"},
		BeatTexts:     []string{"Kept opening.", "Weak finale."},
		RevisionCount: 1,
		TargetWords:   800,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Strategy != StrategyPartialRevision {
		t.Errorf("strategy = %q, want partial_revision", res.Strategy)
	}
	if mock.CallCount() != 1 {
		t.Errorf("partial revision should make 1 call, got %d", mock.CallCount())
	}
	if res.Content != "Kept opening.\n\nRevised finale." {
		t.Errorf("content = %q", res.Content)
	}
}

func TestWriteDistributedFallsBackInProcess(t *testing.T) {
	// One scripted failure makes the chord carry an error-free partial;
	// a zero distributed timeout forces the barrier to fail immediately,
	// and the writer must fall back to the in-process strategies.
	mock := &llm.MockClient{Default: "Prose."}
	pool := queue.NewPool(queue.PoolConfig{Workers: 1})
	// Pool deliberately not started: no beat task will ever complete.
	w := New(mock, "test-model", pool, config.WriterConfig{
		MinBeatWords:       10,
		DistributedBeats:   true,
		ParallelBeats:      true,
		DistributedTimeout: 1, // nanosecond barrier, guaranteed timeout
	}, nil)

	res, err := w.Write(context.Background(), &Request{
		Base:        testBase(),
		Beats:       []string{"a", "b"},
		TargetWords: 800,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Strategy != StrategyParallel {
		t.Errorf("strategy = %q, want parallel fallback", res.Strategy)
	}
}

// slowClient delays each completion to exercise the soft timeout.
type slowClient struct {
	llm.Client
	delay time.Duration
}

func (c *slowClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResult, error) {
	time.Sleep(c.delay)
	return c.Client.Chat(ctx, req)
}

func TestWriteSoftTimeoutWarnsWithoutCancelling(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	client := &slowClient{Client: &llm.MockClient{Default: "Prose."}, delay: 30 * time.Millisecond}
	w := New(client, "test-model", nil, config.WriterConfig{
		MinBeatWords:    10,
		BeatSoftTimeout: 5 * time.Millisecond,
	}, logger)

	res, err := w.Write(context.Background(), &Request{
		Base:        testBase(),
		Beats:       []string{"a"},
		TargetWords: 200,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Content != "Prose." {
		t.Errorf("content = %q, slow beat must still complete", res.Content)
	}
	if !strings.Contains(buf.String(), "soft timeout") {
		t.Errorf("missing soft timeout warning in logs: %s", buf.String())
	}
}

func TestPerBeatWords(t *testing.T) {
	w := New(&llm.MockClient{}, "m", nil, config.WriterConfig{MinBeatWords: 150}, nil)

	// 0.85 * 2000 / 4 = 425
	if got := w.perBeatWords(2000, 4); got != 425 {
		t.Errorf("perBeatWords(2000, 4) = %d, want 425", got)
	}
	// Floor kicks in for many beats on a small target.
	if got := w.perBeatWords(600, 10); got != 150 {
		t.Errorf("perBeatWords(600, 10) = %d, want 150", got)
	}
}

func TestWriteRequiresBeats(t *testing.T) {
	w := New(&llm.MockClient{}, "m", nil, config.WriterConfig{}, nil)
	if _, err := w.Write(context.Background(), &Request{Base: testBase()}); err == nil {
		t.Error("expected error for empty beat list")
	}
}

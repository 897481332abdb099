package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/henribesnard/novellaforge/internal/config"
	"github.com/henribesnard/novellaforge/internal/llm"
	"github.com/henribesnard/novellaforge/internal/queue"
	"github.com/henribesnard/novellaforge/internal/types"
)

// Strategy names reported in the write result.
const (
	StrategyPartialRevision     = "partial_revision"
	StrategyDistributedParallel = "distributed_parallel"
	StrategyParallel            = "parallel"
	StrategySequential          = "sequential"
)

const beatSystemPrompt = "You are a fiction ghostwriter. Write vivid, continuous prose in the established voice. Never break character, never address the reader, never include headings."

// Request is one beat-expansion run.
type Request struct {
	Base  *BasePrompt
	Beats []string

	// Prior iteration's beat texts; drives partial revision.
	BeatTexts     []string
	RevisionCount int

	TargetWords int
	MaxWords    int
}

// Result is the expanded chapter.
type Result struct {
	Content     string
	BeatTexts   []string
	FailedBeats int
	Strategy    string
}

// Writer expands scene beats into chapter prose.
type Writer struct {
	client llm.Client
	model  string
	pool   *queue.Pool
	cfg    config.WriterConfig
	logger *slog.Logger
}

// New creates a writer. pool may be nil; distributed mode then falls
// through to in-process generation.
func New(client llm.Client, model string, pool *queue.Pool, cfg config.WriterConfig, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{client: client, model: model, pool: pool, cfg: cfg, logger: logger}
}

// Write runs the highest-priority applicable strategy.
func (w *Writer) Write(ctx context.Context, req *Request) (*Result, error) {
	n := len(req.Beats)
	if n == 0 {
		return nil, fmt.Errorf("cannot write chapter without beats")
	}

	perBeat := w.perBeatWords(req.TargetWords, n)

	if w.cfg.PartialRevision && req.RevisionCount > 0 && len(req.BeatTexts) == n {
		return w.partialRevision(ctx, req, perBeat)
	}

	if w.cfg.DistributedBeats && w.pool != nil && n > 1 {
		res, err := w.distributed(ctx, req, perBeat)
		if err == nil {
			return res, nil
		}
		w.logger.Warn("distributed beat generation failed, falling back in-process",
			"chapter_index", req.Base.ChapterIndex, "error", err)
	}

	if w.cfg.ParallelBeats && n > 1 {
		return w.parallel(ctx, req, perBeat)
	}
	return w.sequential(ctx, req, perBeat)
}

// perBeatWords distributes the chapter target across beats.
func (w *Writer) perBeatWords(target, beats int) int {
	per := int(0.85 * float64(target) / float64(beats))
	if per < w.cfg.MinBeatWords {
		per = w.cfg.MinBeatWords
	}
	return per
}

// partialRevision regenerates only the last beat, keeping the rest of
// the draft intact.
func (w *Writer) partialRevision(ctx context.Context, req *Request, perBeat int) (*Result, error) {
	n := len(req.Beats)
	kept := req.BeatTexts[:n-1]
	keptWords := 0
	for _, t := range kept {
		keptWords += types.WordCount(t)
	}

	hint := priorBeatsSummary(kept, w.cfg.PreviousBeatsMaxChars)
	text, err := w.generateBeat(ctx, req, n-1, keptWords, perBeat, hint)
	if err != nil {
		return nil, fmt.Errorf("partial revision of beat %d failed: %w", n, err)
	}

	beatTexts := make([]string, n)
	copy(beatTexts, kept)
	beatTexts[n-1] = text
	return w.assemble(beatTexts, StrategyPartialRevision), nil
}

// distributed fans each beat out onto the beats_high lane and waits on a
// chord barrier bounded by the distributed timeout.
func (w *Writer) distributed(ctx context.Context, req *Request, perBeat int) (*Result, error) {
	n := len(req.Beats)
	chord := queue.NewChord(n)

	for i := 0; i < n; i++ {
		i := i
		task := queue.NewTask(fmt.Sprintf("beat:%d:%d", req.Base.ChapterIndex, i+1), queue.LaneBeatsHigh,
			func(taskCtx context.Context) (any, error) {
				return w.generateBeat(taskCtx, req, i, i*perBeat, perBeat, "")
			})
		task.Timeout = w.cfg.BeatHardTimeout
		task.Done = func(res queue.TaskResult) {
			chord.Complete(i, res.Payload, res.Err)
		}
		if err := w.pool.Submit(task); err != nil {
			chord.Complete(i, nil, err)
		}
	}

	results, err := chord.Wait(ctx, w.cfg.DistributedTimeout)
	if err != nil {
		return nil, err
	}

	beatTexts := make([]string, n)
	failed := 0
	for _, r := range results {
		if r.Err != nil || r.Payload == nil {
			failed++
			continue
		}
		beatTexts[r.Index] = r.Payload.(string)
	}

	res := w.assemble(beatTexts, StrategyDistributedParallel)
	res.FailedBeats = failed
	return res, nil
}

// parallel launches one LLM call per beat with errgroup; each goroutine
// writes into its own index slot so assembly preserves beat order.
func (w *Writer) parallel(ctx context.Context, req *Request, perBeat int) (*Result, error) {
	n := len(req.Beats)
	beatTexts := make([]string, n)
	failed := make([]bool, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			text, err := w.generateBeat(gctx, req, i, i*perBeat, perBeat, "")
			if err != nil {
				w.logger.Warn("beat generation failed", "beat", i+1, "error", err)
				failed[i] = true
				return nil
			}
			beatTexts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := w.assemble(beatTexts, StrategyParallel)
	for _, f := range failed {
		if f {
			res.FailedBeats++
		}
	}
	return res, nil
}

// sequential writes beats in order, feeding a trailing continuation hint
// forward and stopping early once the target ratio is reached.
func (w *Writer) sequential(ctx context.Context, req *Request, perBeat int) (*Result, error) {
	n := len(req.Beats)
	beatTexts := make([]string, n)
	failed := 0

	var running strings.Builder
	words := 0
	for i := 0; i < n; i++ {
		if w.cfg.EarlyStopRatio > 0 && float64(words) >= float64(req.TargetWords)*w.cfg.EarlyStopRatio {
			w.logger.Debug("early stop", "beat", i+1, "words", words, "target", req.TargetWords)
			break
		}

		text, err := w.generateBeat(ctx, req, i, words, perBeat, continuationHint(running.String()))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Warn("beat generation failed", "beat", i+1, "error", err)
			failed++
			continue
		}
		beatTexts[i] = text
		if running.Len() > 0 {
			running.WriteString("\n\n")
		}
		running.WriteString(text)
		words += types.WordCount(text)
	}

	res := w.assemble(beatTexts, StrategySequential)
	res.FailedBeats = failed
	return res, nil
}

func (w *Writer) generateBeat(ctx context.Context, req *Request, beatIndex, currentWords, perBeat int, hint string) (string, error) {
	remaining := perBeat
	maxTokens := w.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = int(float64(perBeat) * w.cfg.TokensPerWord)
		if maxTokens <= 0 {
			maxTokens = perBeat * 2
		}
	}

	prompt := beatPrompt(req.Base, req.Beats, beatIndex, currentWords, remaining, req.MaxWords, hint)
	chatCtx := ctx
	if w.cfg.BeatHardTimeout > 0 {
		var cancel context.CancelFunc
		chatCtx, cancel = context.WithTimeout(ctx, w.cfg.BeatHardTimeout)
		defer cancel()
	}
	// Soft limit warns; only the hard limit cancels.
	if w.cfg.BeatSoftTimeout > 0 {
		soft := time.AfterFunc(w.cfg.BeatSoftTimeout, func() {
			w.logger.Warn("beat running past soft timeout",
				"beat", beatIndex+1, "soft_timeout", w.cfg.BeatSoftTimeout)
		})
		defer soft.Stop()
	}

	res, err := w.client.Chat(chatCtx, &llm.ChatRequest{
		Model:       w.model,
		Messages:    llm.SystemUser(beatSystemPrompt, prompt),
		Temperature: 0.8,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Content), nil
}

// assemble joins non-empty beat texts in beat order.
func (w *Writer) assemble(beatTexts []string, strategy string) *Result {
	var parts []string
	for _, t := range beatTexts {
		if strings.TrimSpace(t) != "" {
			parts = append(parts, strings.TrimSpace(t))
		}
	}
	return &Result{
		Content:   strings.Join(parts, "\n\n"),
		BeatTexts: beatTexts,
		Strategy:  strategy,
	}
}

package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fenglin-dev/voicegate/internal/records"
	"github.com/fenglin-dev/voicegate/internal/rewrite"
)

// CorrectionWindow is the throttle period between non-final emissions
// (spec.md §4.D, CORRECTION_WINDOW_SEC).
const CorrectionWindow = 1800 * time.Millisecond

// IdleCheckIntervalCap bounds how often the idle watcher polls,
// regardless of how large idle_timeout_sec is.
const IdleCheckIntervalCap = 5 * time.Second

// CorrWaitTimeout is how long the idle watcher waits for the
// correction driver to drain before forcing it down (CORR_WAIT_TIMEOUT_SEC).
const CorrWaitTimeout = 60 * time.Second

const historyDepth = 3

// ASRStream is the 4.B contract the pipeline depends on.
type ASRStream interface {
	Stream(ctx context.Context, audio <-chan []byte, effect bool) (<-chan string, <-chan error)
}

// Emitter is the downstream send half of 4.E: best-effort, tolerant of
// a client that has already gone away.
type Emitter interface {
	Send(ctx context.Context, payload any) error
}

// Pipeline wires the three cooperating tasks of spec.md §4.D around a
// Session: the ASR consumer, the correction driver, and the idle
// watcher.
type Pipeline struct {
	session  *Session
	audio    <-chan []byte
	asr      ASRStream
	rewriter rewrite.Rewriter
	emit     Emitter
	store    records.Store
	logger   *zap.SugaredLogger

	// Overridable for tests; default to the package constants.
	CorrectionWindow     time.Duration
	IdleCheckIntervalCap time.Duration
	CorrWaitTimeout      time.Duration
}

// NewPipeline builds a Pipeline. store may be nil (persistence disabled).
func NewPipeline(
	sess *Session,
	audio <-chan []byte,
	asr ASRStream,
	rewriter rewrite.Rewriter,
	emit Emitter,
	store records.Store,
	logger *zap.SugaredLogger,
) *Pipeline {
	return &Pipeline{
		session:              sess,
		audio:                audio,
		asr:                  asr,
		rewriter:              rewriter,
		emit:                 emit,
		store:                store,
		logger:               logger,
		CorrectionWindow:     CorrectionWindow,
		IdleCheckIntervalCap: IdleCheckIntervalCap,
		CorrWaitTimeout:      CorrWaitTimeout,
	}
}

// Run drives the session to completion: every return path emits
// exactly one is_final:true message downstream (spec.md §3 invariant
// 1), except when ctx is cancelled by the caller because the
// downstream client is already gone, in which case further sends
// would be moot.
func (p *Pipeline) Run(ctx context.Context) {
	asrCtx, cancelASR := context.WithCancel(ctx)
	correctionCtx, cancelCorrection := context.WithCancel(ctx)
	defer cancelASR()
	defer cancelCorrection()

	snapshots, asrErrCh := p.asr.Stream(asrCtx, p.audio, p.session.Effect)

	var wg sync.WaitGroup
	wg.Add(3)

	correctionDone := make(chan struct{})

	go func() {
		defer wg.Done()
		p.consumeASR(snapshots, asrErrCh)
	}()
	go func() {
		defer wg.Done()
		defer close(correctionDone)
		p.correctionLoop(correctionCtx)
	}()
	go func() {
		defer wg.Done()
		p.idleWatch(ctx, cancelASR, cancelCorrection, correctionDone)
	}()

	wg.Wait()

	if abortErr, aborted := p.session.AbortRequested(); aborted {
		_ = p.emit.Send(context.Background(), map[string]any{
			"text":     "",
			"is_final": true,
			"error":    abortErr.Error(),
		})
		return
	}

	p.persistFinal(ctx)
}

// consumeASR is task 1 of §4.D: it writes every snapshot into the
// session and, when the upstream sequence ends, checks for a trailing
// hard error to promote into an abort. Cancellation of asrCtx (by the
// idle watcher or by the caller) unwinds this by closing snapshots.
func (p *Pipeline) consumeASR(snapshots <-chan string, errCh <-chan error) {
	defer p.session.SetASRDone()

	for snap := range snapshots {
		p.session.SetCurrentASR(snap)
	}

	if err, ok := <-errCh; ok && err != nil {
		p.session.RequestAbort(err)
	}
}

// correctionLoop is task 2 of §4.D: it throttles emissions to at most
// one per CorrectionWindow, runs the optional LLM rewrite over each
// snapshot, and — once the session is closing (asr_done or
// idle_requested) and correction is in effect — performs one final
// rewrite of the current snapshot and emits it before emitting the
// single is_final message, even when that snapshot was already sent.
// Without correction, an already-sent snapshot is not emitted again.
func (p *Pipeline) correctionLoop(ctx context.Context) {
	s := p.session

	for {
		if !s.IdleRequested() {
			select {
			case <-time.After(p.CorrectionWindow):
			case <-s.IdleSignal():
			case <-ctx.Done():
				return
			}
		}

		snap := s.CurrentASR()
		closing := s.ASRDone() || s.IdleRequested()
		isNew := snap != "" && snap != s.LastSentSnap()

		switch {
		case isNew:
			text := p.rewriteSnapshot(ctx, snap)
			p.emitChunk(ctx, text, snap)
		case closing && snap != "" && s.UseCorrection:
			// Mandated by spec.md §4.D: the last chunk sent must reflect
			// a rewrite performed with the final correction context, even
			// if no new ASR data arrived since the previous emission.
			text := p.rewriteSnapshot(ctx, snap)
			p.emitChunk(ctx, text, snap)
		}

		if closing {
			break
		}
	}

	// A hard upstream/config failure replaces this driver's own trailing
	// final with the pipeline's single error final (Run's outer frame) —
	// emitting both here would violate the one-is_final-per-session rule.
	if _, aborted := s.AbortRequested(); aborted {
		return
	}

	_ = p.emit.Send(ctx, map[string]any{
		"text":     s.LastSentText(),
		"is_final": true,
	})
}

func (p *Pipeline) rewriteSnapshot(ctx context.Context, snap string) string {
	s := p.session
	if !s.UseCorrection {
		return snap
	}

	history := s.RecentHistory(historyDepth)
	text, err := p.rewriter.Rewrite(ctx, snap, history)
	if err != nil {
		return snap
	}
	if s.ASRDone() {
		s.AppendStableHistory(text)
	}
	return text
}

func (p *Pipeline) emitChunk(ctx context.Context, text, snap string) {
	_ = p.emit.Send(ctx, map[string]any{"text": text, "is_final": false})
	p.session.RecordEmission(snap, text)
}

// idleWatch is task 3 of §4.D: it polls last_asr_update_at every
// min(IdleCheckIntervalCap, idle_timeout_sec) and, once the session
// has gone silent for idle_timeout_sec, requests a graceful close,
// waits (bounded by CorrWaitTimeout) for the correction driver to
// drain, emits the administrative closed message, and tears the ASR
// consumer down.
func (p *Pipeline) idleWatch(ctx context.Context, cancelASR, cancelCorrection context.CancelFunc, correctionDone <-chan struct{}) {
	s := p.session

	interval := p.IdleCheckIntervalCap
	if budget := time.Duration(s.IdleTimeoutSec * float64(time.Second)); budget < interval {
		interval = budget
	}
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.AbortSignal():
			return
		case <-ticker.C:
			idleSeconds := time.Since(s.LastAsrUpdateAt()).Seconds()
			if idleSeconds < s.IdleTimeoutSec {
				continue
			}

			s.RequestIdle()

			select {
			case <-correctionDone:
			case <-time.After(p.CorrWaitTimeout):
				p.logger.Warnf("session: correction driver did not drain within %s, cancelling", p.CorrWaitTimeout)
				cancelCorrection()
				<-correctionDone
			}

			_ = p.emit.Send(ctx, map[string]any{"closed": true, "reason": "idle_timeout"})
			cancelASR()
			return
		}
	}
}

func (p *Pipeline) persistFinal(_ context.Context) {
	if p.store == nil {
		return
	}
	rec := records.Record{Text: p.session.LastSentText(), Engine: "volcengine-bigmodel"}
	if err := p.store.Append(context.Background(), rec); err != nil {
		p.logger.Warnf("session: append finalized record: %v", err)
	}
}

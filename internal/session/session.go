// Package session implements spec.md's Data Model (§3) and Session
// pipeline (§4.D) — the heart of the gateway.
package session

import (
	"strings"
	"sync"
	"time"
)

// Session is the per-client state machine described in spec.md §3. The
// trio (currentASR, lastAsrUpdateAt, asrDone) is written by the ASR
// consumer and read by the correction driver and idle watcher from
// different goroutines, so — unlike the single-threaded cooperative
// reference this was distilled from — it is guarded by a mutex here
// (spec.md §9: "preemptive runtimes must use an atomic reference or a
// mutex around the three mutable session fields"). The remaining
// fields (lastSentSnap, lastSentText, stableHistory, lastSpeechAt) are
// touched only by the correction driver and need no synchronization.
type Session struct {
	Effect         bool
	UseLLM         bool
	UseCorrection  bool
	IdleTimeoutSec float64

	mu              sync.Mutex
	currentASR      string
	lastAsrUpdateAt time.Time
	asrDone         bool

	lastSentSnap  string
	lastSentText  string
	stableHistory []string
	lastSpeechAt  time.Time

	idleOnce sync.Once
	idleCh   chan struct{}

	abortOnce sync.Once
	abortCh   chan struct{}
	abortMu   sync.Mutex
	abortErr  error
}

// New builds a Session. useCorrection is precomputed by the caller as
// use_llm ∧ LLM-credentials-configured (spec.md §4.D).
func New(effect, useLLM, useCorrection bool, idleTimeoutSec float64) *Session {
	now := time.Now()
	return &Session{
		Effect:          effect,
		UseLLM:          useLLM,
		UseCorrection:   useCorrection,
		IdleTimeoutSec:  idleTimeoutSec,
		lastAsrUpdateAt: now,
		lastSpeechAt:    now,
		idleCh:          make(chan struct{}),
		abortCh:         make(chan struct{}),
	}
}

// SetCurrentASR replaces the latest transcript snapshot and stamps
// last_asr_update_at. Called only by the ASR consumer.
func (s *Session) SetCurrentASR(text string) {
	s.mu.Lock()
	s.currentASR = text
	s.lastAsrUpdateAt = time.Now()
	s.mu.Unlock()
}

// CurrentASR returns the latest transcript snapshot.
func (s *Session) CurrentASR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentASR
}

// SetASRDone marks the ASR sequence exhausted; per spec.md §3,
// current_asr is immutable from this point on.
func (s *Session) SetASRDone() {
	s.mu.Lock()
	s.asrDone = true
	s.mu.Unlock()
}

// ASRDone reports whether the ASR sequence has been exhausted.
func (s *Session) ASRDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asrDone
}

// LastAsrUpdateAt returns the last time current_asr changed.
func (s *Session) LastAsrUpdateAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAsrUpdateAt
}

// RequestIdle fires the one-shot idle_requested signal.
func (s *Session) RequestIdle() {
	s.idleOnce.Do(func() { close(s.idleCh) })
}

// IdleRequested reports whether the idle watcher has fired.
func (s *Session) IdleRequested() bool {
	select {
	case <-s.idleCh:
		return true
	default:
		return false
	}
}

// IdleSignal exposes the idle_requested channel for select statements.
func (s *Session) IdleSignal() <-chan struct{} {
	return s.idleCh
}

// RequestAbort fires the one-shot hard-failure signal (spec.md §7's
// ConfigMissing / UpstreamProtocolError kinds), recording the error
// that the pipeline must surface as the session's sole terminal
// message instead of the correction driver's own trailing emission.
func (s *Session) RequestAbort(err error) {
	s.abortOnce.Do(func() {
		s.abortMu.Lock()
		s.abortErr = err
		s.abortMu.Unlock()
		close(s.abortCh)
	})
}

// AbortRequested reports whether a hard failure was signalled, and
// the error that caused it.
func (s *Session) AbortRequested() (error, bool) {
	select {
	case <-s.abortCh:
		s.abortMu.Lock()
		defer s.abortMu.Unlock()
		return s.abortErr, true
	default:
		return nil, false
	}
}

// AbortSignal exposes the abort channel for select statements.
func (s *Session) AbortSignal() <-chan struct{} {
	return s.abortCh
}

// LastSentSnap returns the snapshot value last emitted downstream.
func (s *Session) LastSentSnap() string { return s.lastSentSnap }

// LastSentText returns the actual payload (post-rewrite) last emitted.
func (s *Session) LastSentText() string { return s.lastSentText }

// RecordEmission updates the dedup/final-message trackers. Called only
// by the correction driver after every non-final emission attempt.
func (s *Session) RecordEmission(snap, text string) {
	s.lastSentSnap = snap
	s.lastSentText = text
	s.lastSpeechAt = time.Now()
}

// AppendStableHistory grows stable_history. Per spec.md §3 this only
// happens inside the correction loop, and only when asr_done at the
// time of emission.
func (s *Session) AppendStableHistory(text string) {
	s.stableHistory = append(s.stableHistory, text)
}

// RecentHistory joins the last n entries of stable_history with "\n",
// the context window forwarded to the LLM rewrite call.
func (s *Session) RecentHistory(n int) string {
	history := s.stableHistory
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return strings.Join(history, "\n")
}

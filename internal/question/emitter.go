package question

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid block transition")

type phase int

const (
	phaseIdle phase = iota
	phaseOpen
	phaseCheckpointed
	phaseFinished
)

type tagState struct {
	phase   phase
	count   int
	started time.Time
}

// emitter enforces start → progress* → (checkpoint → progress*)? → finish
// per source tag and keeps the counts those blocks report.
type emitter struct {
	out  chan<- Block
	now  func() time.Time
	tags map[Source]*tagState
}

func newEmitter(out chan<- Block, now func() time.Time) *emitter {
	return &emitter{out: out, now: now, tags: make(map[Source]*tagState)}
}

// send hands b to the consumer. After ctx ends nothing more is sent.
func (e *emitter) send(ctx context.Context, b Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case e.out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *emitter) state(src Source) *tagState {
	st, ok := e.tags[src]
	if !ok {
		st = &tagState{}
		e.tags[src] = st
	}
	return st
}

func (e *emitter) start(ctx context.Context, src Source) error {
	st := e.state(src)
	if st.phase != phaseIdle {
		return fmt.Errorf("%w: start %s twice", ErrInvalidTransition, src)
	}
	if err := e.send(ctx, StartBlock{Source: src}); err != nil {
		return err
	}
	st.phase, st.started = phaseOpen, e.now()
	return nil
}

// progress emits qs; an empty increment emits nothing.
func (e *emitter) progress(ctx context.Context, src Source, qs []Question) error {
	st := e.state(src)
	if st.phase != phaseOpen && st.phase != phaseCheckpointed {
		return fmt.Errorf("%w: progress on %s before start", ErrInvalidTransition, src)
	}
	if len(qs) == 0 {
		return nil
	}
	if err := e.send(ctx, ProgressBlock{Source: src, Questions: qs}); err != nil {
		return err
	}
	st.count += len(qs)
	return nil
}

// checkpoint reports the count and time since start without closing the tag.
func (e *emitter) checkpoint(ctx context.Context, src Source) (int, time.Duration, error) {
	st := e.state(src)
	if st.phase != phaseOpen {
		return 0, 0, fmt.Errorf("%w: checkpoint on %s", ErrInvalidTransition, src)
	}
	elapsed := e.now().Sub(st.started)
	if err := e.send(ctx, CheckpointBlock{Source: src, Count: st.count, Elapsed: elapsed}); err != nil {
		return 0, 0, err
	}
	st.phase = phaseCheckpointed
	return st.count, elapsed, nil
}

func (e *emitter) finish(ctx context.Context, src Source) (int, time.Duration, error) {
	st := e.state(src)
	if st.phase != phaseOpen && st.phase != phaseCheckpointed {
		return 0, 0, fmt.Errorf("%w: finish on %s", ErrInvalidTransition, src)
	}
	elapsed := e.now().Sub(st.started)
	if err := e.send(ctx, FinishBlock{Source: src, Count: st.count, Elapsed: elapsed}); err != nil {
		return 0, 0, err
	}
	st.phase = phaseFinished
	return st.count, elapsed, nil
}

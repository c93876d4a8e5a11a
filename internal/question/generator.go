package question

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Generator drives one streamed generation batch and turns the agent's
// growing raw text into question increments.
type Generator struct {
	agent    Agent
	debounce time.Duration
	shuffle  func(n int, swap func(i, j int))
	log      *zap.Logger
}

type GeneratorOption func(*Generator)

func WithShuffle(fn func(n int, swap func(i, j int))) GeneratorOption {
	return func(g *Generator) { g.shuffle = fn }
}

func WithDebounce(d time.Duration) GeneratorOption {
	return func(g *Generator) { g.debounce = d }
}

func NewGenerator(agent Agent, log *zap.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		agent:    agent,
		debounce: time.Second,
		shuffle:  rand.Shuffle,
		log:      log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate streams batch batchNo and calls yield with each non-empty
// increment. It returns yield's first error.
func (g *Generator) Generate(ctx context.Context, p GeneratePrompt, batchNo int, yield func([]Question) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := g.agent.GenerateStream(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to start generation: %w", err)
	}
	deltas, received := receive(ctx, stream)
	defer func() {
		cancel()
		stream.Close()
		<-received
	}()

	var acc strings.Builder
	offset := 0

	scan := func() error {
		units := questionUnits(acc.String())
		if len(units) <= offset {
			return nil
		}
		fresh := units[offset:]
		// Units of another type still advance the offset so they are never
		// reconsidered, even though they are not emitted.
		offset = len(units)

		batch := make([]Question, 0, len(fresh))
		for _, u := range fresh {
			if p.Type != TypeAny && u.typ != p.Type {
				continue
			}
			content := u.content
			if u.typ == TypeMultipleChoice {
				content = ReorderChoices(content, g.shuffle)
			}
			q := NewQuestion(content, SourceGenerated, u.typ)
			q.BatchNo = batchNo
			batch = append(batch, q)
		}
		if len(batch) == 0 {
			return nil
		}
		return yield(batch)
	}

	// Without a debounce every delta is scanned; otherwise scans run on the
	// tick, so a finished unit goes out while the agent is still thinking.
	var tick <-chan time.Time
	if g.debounce > 0 {
		t := time.NewTicker(g.debounce)
		defer t.Stop()
		tick = t.C
	}

recv:
	for {
		select {
		case d := <-deltas:
			if errors.Is(d.err, io.EOF) {
				break recv
			}
			if d.err != nil {
				return fmt.Errorf("failed to read generation stream: %w", d.err)
			}
			acc.WriteString(d.text)
			if tick == nil {
				if err := scan(); err != nil {
					return err
				}
			}
		case <-tick:
			if err := scan(); err != nil {
				return err
			}
		case <-ctx.Done():
			return fmt.Errorf("failed to read generation stream: %w", ctx.Err())
		}
	}
	if err := scan(); err != nil {
		return err
	}

	g.log.Debug("Generation batch completed",
		zap.Int("batch_no", batchNo),
		zap.Int("units", offset),
	)
	return nil
}

type delta struct {
	text string
	err  error
}

// receive pumps stream deltas into a channel until the stream ends or ctx is
// done. The second channel closes once the pump has exited.
func receive(ctx context.Context, stream TextStream) (<-chan delta, <-chan struct{}) {
	out := make(chan delta)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			text, err := stream.Recv()
			select {
			case out <- delta{text: text, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out, done
}

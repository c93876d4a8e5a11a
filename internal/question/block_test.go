package question

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockJSON(t *testing.T) {
	q := Question{ID: IDFromInt(12), Content: "What is entropy?", Source: SourceHistorical, Type: TypeOpen, BatchNo: 1}

	tests := []struct {
		name  string
		block Block
		want  string
	}{
		{
			name:  "start",
			block: StartBlock{Source: SourceSameCourse},
			want:  `{"done":false,"q_src":"same_course","status":"start","count":null,"time":null,"questions":null}`,
		},
		{
			name:  "progress",
			block: ProgressBlock{Source: SourceHistorical, Questions: []Question{q}},
			want: `{"done":false,"q_src":"historical","status":"progress","count":null,"time":null,"questions":[` +
				`{"id":"00000000-0000-0000-0000-00000000000c","content":"What is entropy?","source":"historical","type":"open","meta_info":null,"batch_no":1}]}`,
		},
		{
			name:  "checkpoint keeps sub-second precision",
			block: CheckpointBlock{Source: SourceGenerated, Count: 4, Elapsed: 1250 * time.Millisecond},
			want:  `{"done":false,"q_src":"generated","status":"checkpoint","count":4,"time":1.25,"questions":null}`,
		},
		{
			name:  "finish",
			block: FinishBlock{Source: SourceSameUniversity, Count: 0, Elapsed: 3906250 * time.Nanosecond},
			want:  `{"done":false,"q_src":"same_university","status":"finish","count":0,"time":0.00390625,"questions":null}`,
		},
		{
			name:  "done",
			block: DoneBlock{Count: 9, Elapsed: 2 * time.Second},
			want:  `{"done":true,"q_src":null,"status":null,"count":9,"time":2,"questions":null}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.block.MarshalJSON()
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncodeSSE(t *testing.T) {
	got, err := EncodeSSE(DoneBlock{Count: 1, Elapsed: time.Second})
	require.NoError(t, err)
	assert.Equal(t, `data: {"done":true,"q_src":null,"status":null,"count":1,"time":1,"questions":null}`+"\n\n", string(got))
}

func TestQuestionMetaInfo(t *testing.T) {
	q := Question{ID: IDFromInt(1), Content: "x", Source: SourceSameCourse, Type: TypeCalculation, MetaInfo: "2021 - UNSW", BatchNo: 1}
	got, err := q.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(got), `"meta_info":"2021 - UNSW"`)
	assert.Contains(t, string(got), `"type":"calculation"`)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestEmitterTransitions(t *testing.T) {
	ctx := context.Background()
	out := make(chan Block, 16)
	clock := &fakeClock{t: time.Unix(0, 0)}
	em := newEmitter(out, clock.now)

	require.ErrorIs(t, em.progress(ctx, SourceGenerated, []Question{{}}), ErrInvalidTransition)
	_, _, err := em.finish(ctx, SourceGenerated)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, em.start(ctx, SourceGenerated))
	require.ErrorIs(t, em.start(ctx, SourceGenerated), ErrInvalidTransition)
	require.NoError(t, em.progress(ctx, SourceGenerated, nil))
	require.NoError(t, em.progress(ctx, SourceGenerated, []Question{{}, {}}))

	clock.t = clock.t.Add(3 * time.Second)
	count, elapsed, err := em.checkpoint(ctx, SourceGenerated)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 3*time.Second, elapsed)

	_, _, err = em.checkpoint(ctx, SourceGenerated)
	require.ErrorIs(t, err, ErrInvalidTransition, "one checkpoint per tag")

	require.NoError(t, em.progress(ctx, SourceGenerated, []Question{{}}))
	clock.t = clock.t.Add(2 * time.Second)
	count, elapsed, err = em.finish(ctx, SourceGenerated)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 5*time.Second, elapsed)

	require.ErrorIs(t, em.progress(ctx, SourceGenerated, []Question{{}}), ErrInvalidTransition)

	close(out)
	var statuses []string
	for b := range out {
		raw, err := b.MarshalJSON()
		require.NoError(t, err)
		statuses = append(statuses, string(raw))
	}
	assert.Len(t, statuses, 5, "empty progress emits nothing")
}

func TestEmitterStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Block, 1)
	em := newEmitter(out, time.Now)
	cancel()

	err := em.start(ctx, SourceSameCourse)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out, "nothing is sent once ctx is done")
}

func TestFutureAwait(t *testing.T) {
	f := NewFuture[int]()
	go f.Resolve(7, nil)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled, "cancellation wins over a ready value")
}

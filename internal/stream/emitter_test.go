package stream

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmitterOrdersAndTerminatesOnce(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, em.Emit(ctx, 0, ReasoningStart()))
	require.NoError(t, em.Emit(ctx, 0, ReasoningDelta("thinking")))
	require.NoError(t, em.Emit(ctx, 0, SectionEnd()))
	require.NoError(t, em.Emit(ctx, 1, MessageStart("hi")))
	require.ErrorIs(t, em.Emit(ctx, 0, MessageDelta("late")), ErrOutOfOrder)

	require.NoError(t, em.Stop(ctx, Payload{StopReason: models.StopFinished}))
	require.ErrorIs(t, em.Stop(ctx, Payload{}), ErrClosed)
	require.ErrorIs(t, em.Fail(ctx, errors.New("boom")), ErrClosed)
	require.ErrorIs(t, em.Emit(ctx, 2, MessageDelta("x")), ErrClosed)

	pkts := rec.Packets()
	require.Len(t, pkts, 5)
	last := pkts[len(pkts)-1]
	assert.Equal(t, KindOverallStop, last.Payload.Kind)
	assert.Equal(t, pkts[len(pkts)-2].Step, last.Step)
	for i, p := range pkts {
		assert.Equal(t, int64(i+1), p.Seq)
	}
}

func TestEmitterRejectsTerminalPayloadViaEmit(t *testing.T) {
	em := NewEmitter(&Recorder{}, nil)
	require.ErrorIs(t, em.Emit(context.Background(), 0, Payload{Kind: KindOverallStop}), ErrTerminalPayload)
}

func TestEmitterLiveness(t *testing.T) {
	alive := true
	rec := &Recorder{}
	em := NewEmitter(rec, zap.NewNop(), WithLiveness(func() bool { return alive }))
	ctx := context.Background()

	require.NoError(t, em.Emit(ctx, 0, MessageStart("a")))
	alive = false
	require.ErrorIs(t, em.Emit(ctx, 0, MessageDelta("b")), ErrDisconnected)
	alive = true
	assert.False(t, em.Connected(), "disconnect is sticky")

	require.NoError(t, em.Stop(ctx, Payload{StopReason: models.StopCancelled}))
	kinds := rec.Kinds()
	assert.Equal(t, []Kind{KindMessageStart, KindOverallStop}, kinds)
}

func TestEmitterFailIsTerminal(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, em.Emit(ctx, 3, MessageStart("a")))
	require.NoError(t, em.Fail(ctx, errors.New("provider down")))
	pkts := rec.Packets()
	require.Len(t, pkts, 2)
	assert.Equal(t, KindError, pkts[1].Payload.Kind)
	assert.Equal(t, "provider down", pkts[1].Payload.Error)
	assert.Equal(t, 3, pkts[1].Step)
	assert.True(t, em.Closed())
}

func TestEmitterMirrorErrorsAreNotFatal(t *testing.T) {
	rec := &Recorder{}
	failing := SinkFunc(func(context.Context, Packet) error { return errors.New("redis down") })
	var kinds []Kind
	em := NewEmitter(rec, zap.NewNop(), WithMirror(failing), WithObserver(func(k Kind) { kinds = append(kinds, k) }))
	require.NoError(t, em.Emit(context.Background(), 0, MessageStart("a")))
	assert.Len(t, rec.Packets(), 1)
	assert.Equal(t, []Kind{KindMessageStart}, kinds)
}

func TestEmitterConcurrentBranches(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, zap.NewNop())
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(branch int) {
			defer wg.Done()
			_ = em.EmitBranch(ctx, 2, branch, SearchToolDelta([]string{"q"}, nil))
		}(i)
	}
	wg.Wait()
	assert.Len(t, rec.Packets(), 8)
}

func TestChannelSinkClosesAfterTerminal(t *testing.T) {
	sink := NewChannelSink(4)
	em := NewEmitter(sink, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, em.Emit(ctx, 0, MessageStart("a")))
	require.NoError(t, em.Stop(ctx, Payload{StopReason: models.StopFinished}))

	var got []Kind
	for p := range sink.Packets() {
		got = append(got, p.Payload.Kind)
	}
	assert.Equal(t, []Kind{KindMessageStart, KindOverallStop}, got)
}

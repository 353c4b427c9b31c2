package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"medirag/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator emits chunks with an optional pause before each one.
type scriptedGenerator struct {
	chunks  []string
	delay   time.Duration
	err     error
	stopped atomic.Bool
}

func (g *scriptedGenerator) Stream(ctx context.Context, _ string, onChunk func(string) error) error {
	defer g.stopped.Store(true)
	for _, c := range g.chunks {
		if g.delay > 0 {
			select {
			case <-time.After(g.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return g.err
}

func (g *scriptedGenerator) WarmUp(context.Context) error { return nil }

// silentGenerator never produces anything until cancelled.
type silentGenerator struct {
	stopped atomic.Bool
}

func (g *silentGenerator) Stream(ctx context.Context, _ string, _ func(string) error) error {
	<-ctx.Done()
	g.stopped.Store(true)
	return ctx.Err()
}

func (g *silentGenerator) WarmUp(context.Context) error { return nil }

// stallingGenerator sends one chunk and then waits for cancellation.
type stallingGenerator struct {
	first   string
	stopped atomic.Bool
}

func (g *stallingGenerator) Stream(ctx context.Context, _ string, onChunk func(string) error) error {
	defer g.stopped.Store(true)
	if err := onChunk(g.first); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (g *stallingGenerator) WarmUp(context.Context) error { return nil }

type recordingSink struct {
	mu     sync.Mutex
	chunks []string
	failAt int
}

func (s *recordingSink) Write(chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.chunks)+1 >= s.failAt {
		return errors.New("broken pipe")
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *recordingSink) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chunks...)
}

func fastConfig() Config {
	return Config{
		FirstChunkTimeout: time.Second,
		PollInterval:      5 * time.Millisecond,
		DrainTimeout:      time.Second,
	}
}

func TestRelay_Completed(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"Ibuprofen ", "relieves ", "pain."}}
	sink := &recordingSink{}

	res := NewRelay(gen, fastConfig()).Run(context.Background(), Request{Prompt: "prompt"}, sink, nil)

	assert.Equal(t, Completed, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, []string{"Ibuprofen ", "relieves ", "pain."}, sink.written())
	assert.True(t, gen.stopped.Load())
}

func TestRelay_FirstChunkTimeout(t *testing.T) {
	gen := &silentGenerator{}
	sink := &recordingSink{}
	cfg := fastConfig()
	cfg.FirstChunkTimeout = 30 * time.Millisecond

	res := NewRelay(gen, cfg).Run(context.Background(), Request{Prompt: "prompt"}, sink, nil)

	assert.Equal(t, TimedOut, res.State)
	assert.ErrorIs(t, res.Err, types.ErrGenerationTimeout)
	require.Len(t, sink.written(), 1)
	assert.Equal(t, ErrorChunk(types.ErrGenerationTimeout), sink.written()[0])
	assert.True(t, gen.stopped.Load(), "generation must be cancelled")
}

func TestRelay_TimeoutOnlyAppliesToFirstChunk(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"a", "b", "c"}, delay: 60 * time.Millisecond}
	sink := &recordingSink{}
	cfg := fastConfig()
	cfg.FirstChunkTimeout = 100 * time.Millisecond

	res := NewRelay(gen, cfg).Run(context.Background(), Request{Prompt: "prompt"}, sink, nil)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, []string{"a", "b", "c"}, sink.written())
}

func TestRelay_ProbeDisconnectStopsForwarding(t *testing.T) {
	chunks := make([]string, 1000)
	for i := range chunks {
		chunks[i] = "x"
	}
	gen := &scriptedGenerator{chunks: chunks, delay: 2 * time.Millisecond}
	sink := &recordingSink{}

	var gone atomic.Bool
	time.AfterFunc(20*time.Millisecond, func() { gone.Store(true) })

	res := NewRelay(gen, fastConfig()).Run(context.Background(), Request{Prompt: "prompt"}, sink, gone.Load)

	assert.Equal(t, ClientDisconnected, res.State)
	assert.ErrorIs(t, res.Err, types.ErrClientDisconnected)
	assert.Less(t, len(sink.written()), len(chunks))
	for _, c := range sink.written() {
		assert.NotContains(t, c, "[error]")
	}
	assert.True(t, gen.stopped.Load())

	n := len(sink.written())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.written(), n, "nothing forwarded after disconnect")
}

func TestRelay_SinkFailureIsDisconnect(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"a", "b", "c", "d"}}
	sink := &recordingSink{failAt: 3}

	res := NewRelay(gen, fastConfig()).Run(context.Background(), Request{Prompt: "prompt"}, sink, nil)

	assert.Equal(t, ClientDisconnected, res.State)
	assert.ErrorIs(t, res.Err, types.ErrClientDisconnected)
	assert.Equal(t, []string{"a", "b"}, sink.written())
}

func TestRelay_GenerationFailure(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"partial"}, err: errors.New("model crashed")}
	sink := &recordingSink{}

	res := NewRelay(gen, fastConfig()).Run(context.Background(), Request{Prompt: "prompt"}, sink, nil)

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, types.ErrGenerationFailure)
	got := sink.written()
	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0])
	assert.True(t, strings.HasPrefix(got[1], "\n\n[error] "))
	assert.Contains(t, got[1], "model crashed")
}

func TestRelay_ServerStopCancelsStream(t *testing.T) {
	gen := &silentGenerator{}
	sink := &recordingSink{}
	cfg := fastConfig()
	cfg.FirstChunkTimeout = time.Hour
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(10*time.Millisecond, func() { cancel(types.ErrServerStopping) })

	res := NewRelay(gen, cfg).Run(ctx, Request{Prompt: "prompt"}, sink, nil)

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, types.ErrServerStopping)
	require.Len(t, sink.written(), 1)
	assert.Contains(t, sink.written()[0], "server is shutting down")
	assert.True(t, gen.stopped.Load())
}

func TestRelay_MonitorDetectsDisconnectWhileModelStalls(t *testing.T) {
	gen := &stallingGenerator{first: "first"}
	sink := &recordingSink{}
	cfg := fastConfig()
	cfg.FirstChunkTimeout = time.Hour

	var gone atomic.Bool
	time.AfterFunc(30*time.Millisecond, func() { gone.Store(true) })

	start := time.Now()
	res := NewRelay(gen, cfg).Run(context.Background(), Request{Prompt: "prompt"}, sink, gone.Load)

	assert.Equal(t, ClientDisconnected, res.State)
	assert.Equal(t, []string{"first"}, sink.written())
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, gen.stopped.Load())
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(bufio.NewWriter(&buf))

	require.NoError(t, sink.Write("hello "))
	assert.Equal(t, "hello ", buf.String(), "chunks are flushed immediately")
	require.NoError(t, sink.Write("world"))
	assert.Equal(t, "hello world", buf.String())
	assert.False(t, sink.Gone())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriterSink_FailureMarksGone(t *testing.T) {
	sink := NewWriterSink(bufio.NewWriter(brokenWriter{}))

	assert.Error(t, sink.Write("chunk"))
	assert.True(t, sink.Gone())
	assert.ErrorIs(t, sink.Write("more"), types.ErrClientDisconnected)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "client_disconnected", ClientDisconnected.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestRelay_RequestTimeoutOverridesDefault(t *testing.T) {
	gen := &silentGenerator{}
	sink := &recordingSink{}
	cfg := fastConfig()
	cfg.FirstChunkTimeout = time.Hour

	start := time.Now()
	res := NewRelay(gen, cfg).Run(context.Background(), Request{Prompt: "prompt", FirstChunkTimeout: 20 * time.Millisecond}, sink, nil)

	assert.Equal(t, TimedOut, res.State)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Len(t, sink.written(), 1)
}

package stream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"medirag/model"
	"medirag/types"
)

type State int

const (
	Idle State = iota
	Dispatched
	Streaming
	Completed
	TimedOut
	ClientDisconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatched:
		return "dispatched"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case ClientDisconnected:
		return "client_disconnected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Config struct {
	// FirstChunkTimeout bounds the wait for the first chunk only.
	FirstChunkTimeout time.Duration
	// PollInterval is how often the disconnect probe is checked.
	PollInterval time.Duration
	// DrainTimeout bounds the wait for the generation goroutine after
	// cancellation, for generators that ignore their context.
	DrainTimeout time.Duration
}

// Sink receives chunks for the client. A Write error means the client is gone.
type Sink interface {
	Write(chunk string) error
}

// Probe reports whether the client has gone away.
type Probe func() bool

// Request is one generation to relay. A zero FirstChunkTimeout uses the
// relay's configured bound.
type Request struct {
	Prompt            string
	FirstChunkTimeout time.Duration
}

type Result struct {
	State      State
	Chunks     int
	FirstChunk time.Duration
	Err        error
}

// ErrorChunk is the single inline chunk written when a stream fails after
// the response has started.
func ErrorChunk(err error) string {
	return "\n\n[error] " + err.Error()
}

type Relay struct {
	gen    model.Generator
	cfg    Config
	logger *slog.Logger
}

func NewRelay(gen model.Generator, cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	return &Relay{
		gen:    gen,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Run streams the model output for req.Prompt into sink until the model
// finishes, the first chunk times out, the client disconnects or
// generation fails. Both worker goroutines are stopped before Run returns.
func (r *Relay) Run(ctx context.Context, req Request, sink Sink, probe Probe) Result {
	ctx, cancel := context.WithCancel(ctx)

	timeout := req.FirstChunkTimeout
	if timeout <= 0 {
		timeout = r.cfg.FirstChunkTimeout
	}

	var (
		wg           sync.WaitGroup
		disconnected atomic.Bool
		chunks       = make(chan string)
		genErr       = make(chan error, 1)
		gone         = make(chan struct{})
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		genErr <- r.gen.Stream(ctx, req.Prompt, func(chunk string) error {
			select {
			case chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	go func() {
		defer wg.Done()
		r.monitor(ctx, probe, &disconnected, gone)
	}()

	res := r.relay(ctx, timeout, sink, chunks, genErr, gone, &disconnected)

	cancel()
	r.drain(&wg)
	return res
}

func (r *Relay) relay(ctx context.Context, timeout time.Duration, sink Sink, chunks <-chan string, genErr <-chan error, gone <-chan struct{}, disconnected *atomic.Bool) Result {
	res := Result{State: Dispatched}
	start := time.Now()

	var firstChunk <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		firstChunk = timer.C
	}

	fail := func(state State, err error) Result {
		res.State = state
		res.Err = err
		if werr := sink.Write(ErrorChunk(err)); werr != nil {
			disconnected.Store(true)
		}
		return res
	}

	for {
		select {
		case chunk := <-chunks:
			if res.State == Dispatched {
				res.State = Streaming
				res.FirstChunk = time.Since(start)
				firstChunk = nil
			}
			if disconnected.Load() {
				res.State = ClientDisconnected
				res.Err = types.ErrClientDisconnected
				return res
			}
			if err := sink.Write(chunk); err != nil {
				disconnected.Store(true)
				res.State = ClientDisconnected
				res.Err = fmt.Errorf("%w: %w", types.ErrClientDisconnected, err)
				return res
			}
			res.Chunks++

		case err := <-genErr:
			if err == nil {
				res.State = Completed
				return res
			}
			if disconnected.Load() {
				res.State = ClientDisconnected
				res.Err = types.ErrClientDisconnected
				return res
			}
			if ctx.Err() != nil {
				return fail(Failed, stopped(ctx))
			}
			return fail(Failed, fmt.Errorf("%w: %w", types.ErrGenerationFailure, err))

		case <-firstChunk:
			return fail(TimedOut, types.ErrGenerationTimeout)

		case <-gone:
			res.State = ClientDisconnected
			res.Err = types.ErrClientDisconnected
			return res

		case <-ctx.Done():
			return fail(Failed, stopped(ctx))
		}
	}
}

// stopped reports a relay cancelled from outside, usually by server shutdown.
func stopped(ctx context.Context) error {
	return fmt.Errorf("%w: %w", types.ErrGenerationFailure, context.Cause(ctx))
}

func (r *Relay) monitor(ctx context.Context, probe Probe, disconnected *atomic.Bool, gone chan<- struct{}) {
	if probe == nil {
		return
	}
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if probe() {
				disconnected.Store(true)
				close(gone)
				return
			}
		}
	}
}

func (r *Relay) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.DrainTimeout):
		r.logger.Warn("[STREAM] generation did not stop after cancel", "waited", r.cfg.DrainTimeout.String())
	}
}

// WriterSink flushes every chunk to the underlying writer so the client
// sees it immediately. The first failed write marks the client gone.
type WriterSink struct {
	w    *bufio.Writer
	gone atomic.Bool
}

func NewWriterSink(w *bufio.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Write(chunk string) error {
	if s.gone.Load() {
		return types.ErrClientDisconnected
	}
	if _, err := s.w.WriteString(chunk); err != nil {
		s.gone.Store(true)
		return err
	}
	if err := s.w.Flush(); err != nil {
		s.gone.Store(true)
		return err
	}
	return nil
}

// Gone is a Probe for this sink.
func (s *WriterSink) Gone() bool {
	return s.gone.Load()
}

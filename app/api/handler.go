package api

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"time"

	"medirag/app/agent"
	"medirag/app/middleware"
	"medirag/app/stream"
	"medirag/types"

	"github.com/gofiber/fiber/v2"
)

type Retriever interface {
	Retrieve(ctx context.Context, prompt string, k int) ([]types.ScoredDocument, error)
}

type PromptAssembler interface {
	Assemble(prompt, lang string, docs []types.ScoredDocument) agent.Assembly
}

type Streamer interface {
	Run(ctx context.Context, req stream.Request, sink stream.Sink, probe stream.Probe) stream.Result
}

// connProbeWait bounds each read made by the disconnect probe.
const connProbeWait = time.Millisecond

type ContextHandler struct {
	// ctx lives as long as the server; cancelling it ends every stream.
	ctx         context.Context
	retriever   Retriever
	assembler   PromptAssembler
	streamer    Streamer
	defaultLang string
	connProbe   func(c *fiber.Ctx) stream.Probe
	logger      *slog.Logger
}

func NewContextHandler(ctx context.Context, retriever Retriever, assembler PromptAssembler, streamer Streamer, defaultLang string) *ContextHandler {
	return &ContextHandler{
		ctx:         ctx,
		retriever:   retriever,
		assembler:   assembler,
		streamer:    streamer,
		defaultLang: defaultLang,
		connProbe:   clientConnProbe,
		logger:      slog.Default(),
	}
}

func clientConnProbe(c *fiber.Ctx) stream.Probe {
	return stream.ConnProbe(c.Context().Conn(), connProbeWait)
}

// HandleContext answers a prompt as a plain-text stream. Everything that
// can fail synchronously runs before the first byte is written.
func (h *ContextHandler) HandleContext(c *fiber.Ctx) error {
	var params types.ContextParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	req := types.GenerateRequest{
		Prompt:  params.Prompt,
		Lang:    params.Lang,
		TopK:    params.TopK,
		Timeout: time.Duration(params.Timeout) * time.Second,
	}
	if req.Lang == "" {
		req.Lang = h.defaultLang
	}
	reqID := middleware.GetRequestID(c)

	docs, err := h.retriever.Retrieve(c.UserContext(), req.Prompt, req.TopK)
	if err != nil {
		h.logger.Error("[CONTEXT] retrieval failed", "request_id", reqID, "error", err)
		return fmt.Errorf("%w: %w", types.ErrSetupFailure, err)
	}

	assembled := h.assembler.Assemble(req.Prompt, req.Lang, docs)
	h.logger.Info("[CONTEXT] prompt assembled",
		"request_id", reqID,
		"lang", req.Lang,
		"documents", assembled.Documents,
		"fallback", assembled.UsedFallback,
		"tokens", assembled.Tokens,
		"symbols", len(assembled.Text),
	)

	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")
	// The disconnect probe may swallow a pipelined byte, so the connection
	// is not kept alive after a stream.
	c.Context().SetConnectionClose()

	// The fiber context is recycled once the handler returns, so the
	// writer only captures plain values.
	job := stream.Request{Prompt: assembled.Text, FirstChunkTimeout: req.Timeout}
	connGone := h.connProbe(c)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		sink := stream.NewWriterSink(w)
		res := h.streamer.Run(h.ctx, job, sink, stream.AnyGone(sink.Gone, connGone))

		attrs := []any{
			"request_id", reqID,
			"state", res.State.String(),
			"chunks", res.Chunks,
			"first_chunk", res.FirstChunk.String(),
		}
		if res.Err != nil {
			h.logger.Warn("[STREAM] stream ended early", append(attrs, "error", res.Err)...)
			return
		}
		h.logger.Info("[STREAM] stream completed", attrs...)
	})
	return nil
}

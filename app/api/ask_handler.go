package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"medirag/app/agent"
	"medirag/rag"
	"medirag/types"
)

type AskHandler struct {
	engine *rag.Engine
}

func NewAskHandler(engine *rag.Engine) *AskHandler {
	return &AskHandler{
		engine: engine,
	}
}

// HandleAsk answers one question in a single response.
func (h *AskHandler) HandleAsk(c *fiber.Ctx) error {
	var params types.AskParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	params.Question = strings.TrimSpace(params.Question)
	if errs := types.Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	answer, err := h.engine.Answer(c.UserContext(), params.Question, params.Mode)
	switch {
	case errors.Is(err, rag.ErrNotReady):
		return c.JSON(types.Answer{
			Answer:    "RAG not ready. Upload documents first.",
			Sources:   []types.Source{},
			Mode:      params.Mode,
			Timestamp: time.Now().UTC(),
		})
	case errors.Is(err, agent.ErrThrottled):
		return ErrThrottled()
	case err != nil:
		return err
	}
	return c.JSON(answer)
}

// HandleAskStream answers one question as an NDJSON event stream: one
// sources event, partial events while the model generates, a terminal done
// event on every path. Errors mid-stream become an error event; the HTTP
// status is already committed by then.
func (h *AskHandler) HandleAskStream(c *fiber.Ctx) error {
	var params types.AskParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	params.Question = strings.TrimSpace(params.Question)
	if errs := types.Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	// The stream writer runs after this handler returns, so it gets its own
	// context, cancelled when the client stops reading.
	ctx, cancel := context.WithCancel(context.Background())
	events := h.engine.AnswerStream(ctx, params.Question, params.Mode)

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		enc := json.NewEncoder(w)
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}

// HandleSource returns the stored full text behind one citation.
func (h *AskHandler) HandleSource(c *fiber.Ctx) error {
	docID := c.Params("doc_id")
	text, err := h.engine.Resources().Store().Fulltext(docID)
	if err != nil {
		return ErrNotFound(docID, "document")
	}
	return c.JSON(fiber.Map{"doc_id": docID, "text": text})
}

package rag

import "fmt"

// Answer modes.
const (
	ModeBasic     = "basic"
	ModeReasoning = "reasoning"
)

// NoAnswerReply is the literal refusal the model is instructed to emit when
// the context does not contain an answer.
const NoAnswerReply = "I don't know from the uploaded documents."

const basicSystem = `You are a factual medical assistant. Use ONLY the provided context.
If you do not find an answer, reply: "` + NoAnswerReply + `"`

const reasoningSystem = `You are a reasoning-based medical assistant.
Use ONLY the provided context. If missing, say "` + NoAnswerReply + `"`

// buildPrompt renders the system and user messages for one question. The
// reasoning mode asks for a short explanation before the final answer; basic
// mode asks for the answer directly.
func buildPrompt(mode, context, question string) (system, user string) {
	instruction := "Answer concisely and cite relevant page numbers if possible:"
	system = basicSystem
	if mode == ModeReasoning {
		instruction = "Explain briefly, then give your final answer:"
		system = reasoningSystem
	}

	user = fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s\n\n%s", context, question, instruction)
	return system, user
}

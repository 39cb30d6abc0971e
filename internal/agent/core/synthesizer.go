package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/medsterhq/medster/internal/contextmgr"
)

// Synthesizer turns accumulated outputs into the final clinical
// narrative. It always returns some string; synthesis failures surface
// inside the text, never as errors.
type Synthesizer struct {
	gateway         *Gateway
	logger          *log.Logger
	maxOutputTokens int
}

// previewTokens bounds the raw-data preview embedded in fallback answers.
const previewTokens = 1500

// NewSynthesizer creates a synthesizer bound to the given gateway.
func NewSynthesizer(gateway *Gateway, maxOutputTokens int, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = contextmgr.DefaultMaxOutputTokens
	}
	return &Synthesizer{gateway: gateway, logger: logger, maxOutputTokens: maxOutputTokens}
}

const synthPrompt = `You are writing the final answer to a clinical data question.

QUESTION:
%s

DATA COLLECTED:
%s

Write a clear clinical narrative answering the question from the data above.
State explicitly when the data is insufficient; never invent findings.
Respond ONLY as strict JSON: {"answer": "..."}`

// Synthesize produces the final answer from everything collected so far.
func (s *Synthesizer) Synthesize(ctx context.Context, rc *RunContext) string {
	data := strings.Join(contextmgr.ManageContextSize(rc.TaskOutputs, s.maxOutputTokens), "\n\n")
	if strings.TrimSpace(data) == "" {
		data = "no data collected"
	}
	prompt := fmt.Sprintf(synthPrompt, rc.Query, data)

	doc, err := s.gateway.AskStructured(ctx, StageSynthesis, prompt, nil)
	if err == nil {
		if answer, _ := doc["answer"].(string); strings.TrimSpace(answer) != "" {
			return answer
		}
		s.logger.Printf("structured synthesis returned empty answer, retrying free-text")
	} else {
		s.logger.Printf("structured synthesis failed, retrying free-text: %v", err)
	}

	text, ferr := s.gateway.AskText(ctx, StageSynthesis, prompt, nil)
	if ferr == nil && strings.TrimSpace(text) != "" {
		return text
	}

	preview := contextmgr.TruncateOutput(data, previewTokens)
	if ferr != nil {
		return fmt.Sprintf("Answer synthesis failed (%v). Partial collected data follows:\n\n%s", ferr, preview)
	}
	return "Answer synthesis produced no result. Partial collected data follows:\n\n" + preview
}

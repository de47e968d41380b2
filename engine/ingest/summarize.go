package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/pkg/cache"
	"github.com/PapyrusAI/papyrus-mvp/pkg/gemini"
)

const textSummaryPrompt = `You are an assistant tasked with summarizing tables and text.
Give a concise summary of the table or text.

Respond only with the summary, no additional comment.
Do not start your message by saying "Here is a summary" or anything like that.
Just give the summary as it is.

Table or text chunk: %s`

const imageSummaryPrompt = `You are an AI assistant analyzing research paper images.
Describe the image in detail, focusing on graphs, bar plots, and structural elements.

- Identify the type of graph (bar, line, pie, etc.).
- Mention key labels, trends, and data points.
- If text is present, summarize it.
- Provide a structured explanation.

Avoid unnecessary commentary and provide a concise yet informative summary.`

const (
	textFallbackSummary  = "No summary available."
	imageFallbackSummary = "No description available."
)

// summarize produces the short text that will be embedded for a chunk,
// going through the disk cache keyed by the chunk content and prompt.
// Generation failures are non-fatal: the fallback placeholder is used so
// one flaky model call never sinks the run. The second return value
// reports whether the fallback was substituted.
func (s *Service) summarize(ctx context.Context, chunk domain.Chunk) (string, bool) {
	var (
		key   string
		parts []gemini.Part
		fallb string
	)
	if chunk.Kind == domain.KindImage {
		key = cache.Key([]byte("summary-image"), []byte(imageSummaryPrompt), chunk.ImageData)
		parts = []gemini.Part{
			gemini.TextPart(imageSummaryPrompt),
			gemini.ImagePart("image/jpeg", chunk.ImageData),
		}
		fallb = imageFallbackSummary
	} else {
		text := chunk.AggregateText()
		key = cache.Key([]byte("summary-text"), []byte(textSummaryPrompt), []byte(text))
		parts = []gemini.Part{gemini.TextPart(fmt.Sprintf(textSummaryPrompt, text))}
		fallb = textFallbackSummary
	}

	if s.cache != nil {
		if data, ok := s.cache.Get(key); ok {
			return string(data), false
		}
	}

	summary, err := s.generator.Generate(ctx, parts)
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		s.logger.Warn("ingest: summary generation failed, using placeholder",
			"kind", chunk.Kind, "error", err)
		return fallb, true
	}

	if s.cache != nil {
		// A failed cache write only costs a recompute next run.
		if _, cerr := s.cache.GetOrCompute(ctx, key, func(context.Context) ([]byte, error) {
			return []byte(summary), nil
		}); cerr != nil {
			s.logger.Warn("ingest: summary cache write failed", "error", cerr)
		}
	}
	return summary, false
}

package retrieval

import (
	"strings"

	"github.com/PapyrusAI/papyrus-mvp/pkg/gemini"
)

const answerInstruction = "Answer the question based only on the following context, which can include text and images."

// BuildPrompt assembles the single generation request: one text part holding
// the instruction, the concatenated text contexts in retrieval-rank order,
// and the question; followed by the fetched image payloads, also in rank
// order. Partial items (unfetchable images) contribute nothing to the
// prompt; they are carried only as attributions.
func BuildPrompt(question string, rctx *Context) []gemini.Part {
	var b strings.Builder
	b.WriteString(answerInstruction)
	b.WriteString("\nContext:\n")
	for _, doc := range rctx.Texts {
		b.WriteString(doc.Content)
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)

	parts := []gemini.Part{gemini.TextPart(b.String())}
	for _, doc := range rctx.Images {
		if len(doc.ImageData) == 0 {
			continue
		}
		parts = append(parts, gemini.ImagePart("image/jpeg", doc.ImageData))
	}
	return parts
}

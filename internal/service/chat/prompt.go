package chat

import (
	"fmt"
	"strings"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/internal/models"
)

const languageRule = `LANGUAGE RULE (mandatory): Reply in exactly the same language as the reader's latest question. ` +
	`Do not translate the question and do not switch to the language of the book or of these instructions. ` +
	`If the question mixes languages, use the one most of the question is written in.`

var groundingIntro = map[Method]string{
	MethodAIResources: "Use the prepared reading notes below (summaries, key questions and earlier conversation) as your main source.",
	MethodEmbedding:   "Use the excerpts below, retrieved from the book as the passages most relevant to the question. Cite page numbers when they help.",
	MethodFullContent: "Use the book text below as your source.",
}

// buildSystemPrompt carries the book metadata, the grounding and the language rule.
// The language rule comes last so it is the final instruction the model reads.
func buildSystemPrompt(doc *models.Document, g *Grounding, question string) string {
	var sb strings.Builder
	sb.WriteString("You are a reading assistant helping a reader understand a book. ")
	sb.WriteString("Answer only from the material provided; if it does not contain the answer, say so plainly.\n\n")

	sb.WriteString("# Book\n")
	title := doc.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&sb, "Title: %s\n", title)
	if len(doc.Authors) > 0 {
		fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(doc.Authors, ", "))
	}
	if len(doc.Categories) > 0 {
		fmt.Fprintf(&sb, "Categories: %s\n", strings.Join(doc.Categories, ", "))
	}

	sb.WriteString("\n# Material\n")
	sb.WriteString(groundingIntro[g.Method])
	sb.WriteString("\n\n")
	if strings.TrimSpace(g.Text) == "" {
		sb.WriteString("(No content is available for this book yet.)")
	} else {
		sb.WriteString(g.Text)
	}

	sb.WriteString("\n\n# Response language\n")
	sb.WriteString(languageRule)
	if lang := DetectLanguage(question); lang != "" {
		fmt.Fprintf(&sb, " The latest question appears to be written in %s, so the whole reply must be in %s.", lang, lang)
	}
	return sb.String()
}

// buildMessages keeps at most historyLimit prior turns, dropping empty ones and any
// client-supplied system messages.
func buildMessages(system string, prior []models.Message, question string, historyLimit int) []llm.ChatMessage {
	var turns []llm.ChatMessage
	for _, m := range prior {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			turns = append(turns, llm.ChatMessage{Role: llm.RoleUser, Content: m.Content})
		case models.RoleAssistant:
			turns = append(turns, llm.ChatMessage{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	if historyLimit > 0 && len(turns) > historyLimit {
		turns = turns[len(turns)-historyLimit:]
	}

	messages := make([]llm.ChatMessage, 0, len(turns)+2)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: system})
	messages = append(messages, turns...)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: question})
	return messages
}

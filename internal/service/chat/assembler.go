package chat

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/store"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const excerptSeparator = "\n\n---\n\n"

// Retriever is the retrieval engine as seen by the assembler.
type Retriever interface {
	HasChunks(ctx context.Context, documentID string) (bool, error)
	Search(ctx context.Context, documentID string, embedding []float32, requested int, minSimilarity float64) ([]models.Chunk, error)
}

type AssemblerConfig struct {
	MaxContentChars          int
	HistoryLimit             int
	FastPathHistoryThreshold int
	MaxContextChunks         int
	MinSimilarity            float64
}

func (c *AssemblerConfig) setDefaults() {
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = 50000
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.FastPathHistoryThreshold <= 0 {
		c.FastPathHistoryThreshold = 5
	}
	if c.MaxContextChunks <= 0 {
		c.MaxContextChunks = 10
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.3
	}
}

// Grounding is the evidence an answer is built on.
type Grounding struct {
	Method    Method
	Text      string
	Chunks    int
	Truncated bool
}

// Assembler picks the cheapest grounding that is good enough: precomputed artifacts,
// then retrieved chunks, then the document text itself.
type Assembler struct {
	artifacts store.ArtifactStore
	history   store.ChatStore
	retriever Retriever
	embedder  llm.Embedder
	logger    logger.Logger
	config    AssemblerConfig
}

// NewAssembler accepts a nil retriever or embedder, which disables the RAG path.
func NewAssembler(artifacts store.ArtifactStore, history store.ChatStore, retriever Retriever, embedder llm.Embedder, log logger.Logger, cfg AssemblerConfig) *Assembler {
	cfg.setDefaults()
	return &Assembler{
		artifacts: artifacts,
		history:   history,
		retriever: retriever,
		embedder:  embedder,
		logger:    log.Named("assembler"),
		config:    cfg,
	}
}

// Assemble never fails because a path is unavailable; lookups that error are logged
// and the next path is tried.
func (a *Assembler) Assemble(ctx context.Context, doc *models.Document, userID, question string) (*Grounding, error) {
	if g := a.fastPath(ctx, doc, userID); g != nil {
		return g, nil
	}
	if g := a.ragPath(ctx, doc, question); g != nil {
		return g, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.fullContent(doc), nil
}

func (a *Assembler) fastPath(ctx context.Context, doc *models.Document, userID string) *Grounding {
	arts, err := a.artifacts.GetArtifacts(ctx, doc.ID)
	if err != nil {
		a.logger.Warn("artifact lookup failed", logger.String("documentId", doc.ID), logger.Error(err))
		return nil
	}
	kinds := arts.AvailableKinds()
	if len(kinds) == 0 {
		return nil
	}

	var history []models.Message
	if userID != "" {
		history, err = a.history.GetUserHistory(ctx, doc.ID, userID, a.config.HistoryLimit)
		if err != nil {
			a.logger.Warn("history lookup failed", logger.String("documentId", doc.ID), logger.Error(err))
			history = nil
		}
	}

	if len(kinds) < 2 && len(history) <= a.config.FastPathHistoryThreshold {
		return nil
	}
	return &Grounding{Method: MethodAIResources, Text: formatArtifacts(arts, history)}
}

func (a *Assembler) ragPath(ctx context.Context, doc *models.Document, question string) *Grounding {
	if a.retriever == nil || a.embedder == nil {
		return nil
	}
	ok, err := a.retriever.HasChunks(ctx, doc.ID)
	if err != nil {
		a.logger.Warn("chunk lookup failed", logger.String("documentId", doc.ID), logger.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	vecs, err := a.embedder.Embed(ctx, []string{question})
	if err != nil || len(vecs) != 1 {
		a.logger.Warn("query embedding failed", logger.String("documentId", doc.ID), logger.Error(err))
		return nil
	}
	chunks, err := a.retriever.Search(ctx, doc.ID, vecs[0], a.config.MaxContextChunks, a.config.MinSimilarity)
	if err != nil {
		a.logger.Warn("chunk search failed", logger.String("documentId", doc.ID), logger.Error(err))
		return nil
	}

	usable := chunks[:0:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) != "" {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		if len(chunks) > 0 {
			a.logger.Warn("retrieved chunks are all empty", logger.String("documentId", doc.ID), logger.Int("chunks", len(chunks)))
		}
		return nil
	}
	if len(usable) > a.config.MaxContextChunks {
		usable = usable[:a.config.MaxContextChunks]
	}
	return &Grounding{Method: MethodEmbedding, Text: formatExcerpts(usable), Chunks: len(usable)}
}

func (a *Assembler) fullContent(doc *models.Document) *Grounding {
	text := doc.Text()
	runes := []rune(text)
	if len(runes) <= a.config.MaxContentChars {
		return &Grounding{Method: MethodFullContent, Text: text}
	}
	truncated := string(runes[:a.config.MaxContentChars])
	note := fmt.Sprintf("\n\n[Content truncated: showing the first %d of %d characters]", a.config.MaxContentChars, len(runes))
	return &Grounding{Method: MethodFullContent, Text: truncated + note, Truncated: true}
}

func formatArtifacts(arts *models.Artifacts, history []models.Message) string {
	var sections []string
	titles := map[models.ArtifactKind]string{
		models.ArtifactSummary:      "Summary",
		models.ArtifactOverview:     "Overview",
		models.ArtifactShortSummary: "Short summary",
	}
	for _, kind := range models.TextKinds {
		if art := arts.Text(kind); art.Usable() {
			sections = append(sections, fmt.Sprintf("## %s\n%s", titles[kind], art.Content))
		}
	}
	if arts.Questions.Usable() {
		var sb strings.Builder
		sb.WriteString("## Key questions and answers")
		for i, qa := range arts.Questions.Items {
			fmt.Fprintf(&sb, "\nQ%d: %s\nA%d: %s", i+1, qa.Question, i+1, qa.Answer)
		}
		sections = append(sections, sb.String())
	}
	if len(history) > 0 {
		var sb strings.Builder
		sb.WriteString("## Earlier conversation with this reader")
		for _, m := range history {
			fmt.Fprintf(&sb, "\n%s: %s", roleLabel(m.Role), m.Content)
		}
		sections = append(sections, sb.String())
	}
	return strings.Join(sections, "\n\n")
}

func formatExcerpts(chunks []models.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		relevance := int(math.Round(c.Similarity * 100))
		if c.PageNumber != nil {
			parts[i] = fmt.Sprintf("[Excerpt %d (Page %d) - Relevance: %d%%]\n%s", i+1, *c.PageNumber, relevance, c.Content)
		} else {
			parts[i] = fmt.Sprintf("[Excerpt %d - Relevance: %d%%]\n%s", i+1, relevance, c.Content)
		}
	}
	return strings.Join(parts, excerptSeparator)
}

func roleLabel(r models.Role) string {
	if r == models.RoleAssistant {
		return "Assistant"
	}
	return "Reader"
}

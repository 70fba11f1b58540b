// Package artifacts generates the precomputed reading aids (summaries and
// comprehension questions) that let chat answer without a retrieval round-trip.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/store"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const (
	MaxQuestions = 8

	defaultInputChars = 30000
)

var ErrNoContent = errors.New("document has no extracted text")

// Completer is the part of the provider chain the generator needs.
type Completer interface {
	Generate(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions) (*llm.Completion, error)
}

type Config struct {
	// InputChars caps how much of the document is sent to the model.
	InputChars int
	MaxTokens  int
}

type Generator struct {
	llm       Completer
	artifacts store.ArtifactStore
	logger    logger.Logger
	config    Config
	now       func() time.Time
}

func NewGenerator(c Completer, artifacts store.ArtifactStore, log logger.Logger, cfg Config) *Generator {
	if cfg.InputChars <= 0 {
		cfg.InputChars = defaultInputChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Generator{
		llm:       c,
		artifacts: artifacts,
		logger:    log.Named("artifacts"),
		config:    cfg,
		now:       time.Now,
	}
}

type summaryReply struct {
	Summary      string `json:"summary"`
	Overview     string `json:"overview"`
	ShortSummary string `json:"shortSummary"`
}

// GenerateSummaries fills the summary, overview and short summary. Each kind the
// model leaves empty is marked failed; the returned error is non-nil when any failed.
func (g *Generator) GenerateSummaries(ctx context.Context, doc *models.Document) error {
	if !doc.HasContent() {
		return ErrNoContent
	}
	for _, kind := range models.TextKinds {
		if err := g.artifacts.SaveTextArtifact(ctx, doc.ID, kind, models.TextArtifact{Status: models.ArtifactPending}); err != nil {
			return fmt.Errorf("failed to mark %s pending: %w", kind, err)
		}
	}

	var reply summaryReply
	err := g.ask(ctx, summarySystemPrompt, doc, &reply)
	if err != nil {
		g.failText(ctx, doc.ID, models.TextKinds...)
		return fmt.Errorf("failed to generate summaries: %w", err)
	}

	values := map[models.ArtifactKind]string{
		models.ArtifactSummary:      reply.Summary,
		models.ArtifactOverview:     reply.Overview,
		models.ArtifactShortSummary: reply.ShortSummary,
	}
	var missing []string
	now := g.now()
	for _, kind := range models.TextKinds {
		content := strings.TrimSpace(values[kind])
		if content == "" {
			missing = append(missing, string(kind))
			g.failText(ctx, doc.ID, kind)
			continue
		}
		art := models.TextArtifact{Content: content, Status: models.ArtifactCompleted, GeneratedAt: &now}
		if err := g.artifacts.SaveTextArtifact(ctx, doc.ID, kind, art); err != nil {
			return fmt.Errorf("failed to save %s: %w", kind, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("model returned no %s", strings.Join(missing, ", "))
	}
	return nil
}

type questionsReply struct {
	Questions []models.QAPair `json:"questions"`
}

// GenerateQuestions stores up to MaxQuestions question and answer pairs.
func (g *Generator) GenerateQuestions(ctx context.Context, doc *models.Document) error {
	if !doc.HasContent() {
		return ErrNoContent
	}
	if err := g.artifacts.SaveQuestions(ctx, doc.ID, models.QuestionSet{Status: models.ArtifactPending}); err != nil {
		return fmt.Errorf("failed to mark questions pending: %w", err)
	}

	var reply questionsReply
	err := g.ask(ctx, fmt.Sprintf(questionsSystemPrompt, MaxQuestions), doc, &reply)
	if err == nil {
		reply.Questions = cleanPairs(reply.Questions)
		if len(reply.Questions) == 0 {
			err = errors.New("model returned no questions")
		}
	}
	if err != nil {
		if saveErr := g.artifacts.SaveQuestions(ctx, doc.ID, models.QuestionSet{Status: models.ArtifactFailed}); saveErr != nil {
			g.logger.Error("failed to mark questions failed", logger.String("documentId", doc.ID), logger.Error(saveErr))
		}
		return fmt.Errorf("failed to generate questions: %w", err)
	}

	now := g.now()
	set := models.QuestionSet{Items: reply.Questions, Status: models.ArtifactCompleted, GeneratedAt: &now}
	if err := g.artifacts.SaveQuestions(ctx, doc.ID, set); err != nil {
		return fmt.Errorf("failed to save questions: %w", err)
	}
	return nil
}

func (g *Generator) ask(ctx context.Context, system string, doc *models.Document, out interface{}) error {
	messages := []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: g.bookPrompt(doc)},
	}
	res, err := g.llm.Generate(ctx, messages, llm.GenerateOptions{MaxTokens: g.config.MaxTokens, Temperature: 0.3, JSON: true})
	if err != nil {
		return err
	}
	if err := decodeModelJSON(res.Content, out); err != nil {
		return fmt.Errorf("unreadable model output: %w", err)
	}
	g.logger.Debug("artifact generated",
		logger.String("documentId", doc.ID),
		logger.String("provider", string(res.Provider)),
		logger.Int("tokens", res.Usage.TotalTokens),
	)
	return nil
}

func (g *Generator) bookPrompt(doc *models.Document) string {
	text := doc.Text()
	runes := []rune(text)
	if len(runes) > g.config.InputChars {
		text = string(runes[:g.config.InputChars])
	}
	var sb strings.Builder
	if doc.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
	}
	if len(doc.Authors) > 0 {
		fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(doc.Authors, ", "))
	}
	sb.WriteString("\nBook text:\n")
	sb.WriteString(text)
	return sb.String()
}

func (g *Generator) failText(ctx context.Context, documentID string, kinds ...models.ArtifactKind) {
	for _, kind := range kinds {
		if err := g.artifacts.SaveTextArtifact(ctx, documentID, kind, models.TextArtifact{Status: models.ArtifactFailed}); err != nil {
			g.logger.Error("failed to mark artifact failed",
				logger.String("documentId", documentID),
				logger.String("kind", string(kind)),
				logger.Error(err),
			)
		}
	}
}

func cleanPairs(pairs []models.QAPair) []models.QAPair {
	out := make([]models.QAPair, 0, len(pairs))
	for _, p := range pairs {
		p.Question = strings.TrimSpace(p.Question)
		p.Answer = strings.TrimSpace(p.Answer)
		if p.Question == "" || p.Answer == "" {
			continue
		}
		out = append(out, p)
		if len(out) == MaxQuestions {
			break
		}
	}
	return out
}

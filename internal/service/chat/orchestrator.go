package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/store"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrDocumentNotFound = errors.New("document not found")
	ErrSessionNotFound  = errors.New("chat session not found")
	ErrSessionMismatch  = errors.New("chat session belongs to another document")
)

// Generator is the provider chain.
type Generator interface {
	Generate(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions) (*llm.Completion, error)
	GenerateStream(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions, fn func(llm.Delta) error) (*llm.Completion, error)
}

type Request struct {
	DocumentID    string           `json:"documentId"`
	Message       string           `json:"message"`
	PriorMessages []models.Message `json:"priorMessages"`
	SessionID     string           `json:"sessionId,omitempty"`
	UserID        string           `json:"userId,omitempty"`
}

type Response struct {
	Text      string           `json:"text"`
	Provider  llm.ProviderName `json:"provider"`
	Method    Method           `json:"method"`
	Usage     llm.Usage        `json:"usage"`
	SessionID string           `json:"sessionId"`
}

type EventType string

const (
	EventStart EventType = "start"
	EventChunk EventType = "chunk"
)

// StreamEvent is emitted by Stream before the final response: one start, then chunks
// in the order the provider produced them.
type StreamEvent struct {
	Type      EventType
	SessionID string
	Content   string
	Provider  llm.ProviderName
}

type Config struct {
	HistoryLimit   int
	MaxTokens      int
	Temperature    float32
	RequestTimeout time.Duration
}

type Orchestrator struct {
	docs      store.DocumentStore
	chats     store.ChatStore
	assembler *Assembler
	llm       Generator
	logger    logger.Logger
	config    Config
	now       func() time.Time
}

func NewOrchestrator(docs store.DocumentStore, chats store.ChatStore, assembler *Assembler, gen Generator, log logger.Logger, cfg Config) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Orchestrator{
		docs:      docs,
		chats:     chats,
		assembler: assembler,
		llm:       gen,
		logger:    log.Named("chat"),
		config:    cfg,
		now:       time.Now,
	}
}

// turn is a prepared request: everything up to the provider call.
type turn struct {
	sessionID string
	doc       *models.Document
	grounding *Grounding
	messages  []llm.ChatMessage
	asked     time.Time
}

func (o *Orchestrator) prepare(ctx context.Context, req *Request) (*turn, error) {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return nil, ErrEmptyMessage
	}
	doc, err := o.docs.GetDocument(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, req.DocumentID)
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	prior := req.PriorMessages
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else {
		session, err := o.chats.GetSession(ctx, sessionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// first turn of a session whose id the caller chose
		case err != nil:
			return nil, fmt.Errorf("failed to load session: %w", err)
		case session.DocumentID != doc.ID:
			return nil, ErrSessionMismatch
		case len(prior) == 0:
			prior = session.Messages
		}
	}

	grounding, err := o.assembler.Assemble(ctx, doc, req.UserID, question)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble context: %w", err)
	}

	system := buildSystemPrompt(doc, grounding, question)
	return &turn{
		sessionID: sessionID,
		doc:       doc,
		grounding: grounding,
		messages:  buildMessages(system, prior, question, o.config.HistoryLimit),
		asked:     o.now(),
	}, nil
}

func (o *Orchestrator) options() llm.GenerateOptions {
	return llm.GenerateOptions{MaxTokens: o.config.MaxTokens, Temperature: o.config.Temperature}
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, o.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// Respond answers in one shot.
func (o *Orchestrator) Respond(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	t, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := o.llm.Generate(ctx, t.messages, o.options())
	if err != nil {
		o.logger.Error("chat generation failed",
			logger.String("documentId", t.doc.ID),
			logger.String("method", t.grounding.Method.String()),
			logger.Error(err),
		)
		return nil, err
	}
	return o.finish(ctx, req, t, res), nil
}

// Stream emits a start event, then every delta as it arrives. Deltas already emitted
// are not withdrawn when the provider fails part way.
func (o *Orchestrator) Stream(ctx context.Context, req *Request, emit func(StreamEvent) error) (*Response, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	t, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := emit(StreamEvent{Type: EventStart, SessionID: t.sessionID}); err != nil {
		return nil, err
	}

	res, err := o.llm.GenerateStream(ctx, t.messages, o.options(), func(d llm.Delta) error {
		return emit(StreamEvent{Type: EventChunk, SessionID: t.sessionID, Content: d.Content, Provider: d.Provider})
	})
	if err != nil {
		o.logger.Error("chat stream failed",
			logger.String("documentId", t.doc.ID),
			logger.String("sessionId", t.sessionID),
			logger.Error(err),
		)
		return nil, err
	}
	return o.finish(ctx, req, t, res), nil
}

// finish stores the turn. A failed write is logged; the reader still gets the answer.
func (o *Orchestrator) finish(ctx context.Context, req *Request, t *turn, res *llm.Completion) *Response {
	usage := res.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	err := o.chats.AppendMessages(ctx, t.sessionID, t.doc.ID, req.UserID,
		models.Message{Role: models.RoleUser, Content: strings.TrimSpace(req.Message), CreatedAt: t.asked},
		models.Message{Role: models.RoleAssistant, Content: res.Content, CreatedAt: o.now()},
	)
	if err != nil {
		o.logger.Error("failed to store chat turn",
			logger.String("sessionId", t.sessionID),
			logger.Error(err),
		)
	}

	o.logger.Info("chat answered",
		logger.String("documentId", t.doc.ID),
		logger.String("sessionId", t.sessionID),
		logger.String("provider", string(res.Provider)),
		logger.String("method", t.grounding.Method.String()),
		logger.Int("chunks", t.grounding.Chunks),
		logger.Int("totalTokens", usage.TotalTokens),
	)
	return &Response{
		Text:      res.Content,
		Provider:  res.Provider,
		Method:    t.grounding.Method,
		Usage:     usage,
		SessionID: t.sessionID,
	}
}

func (o *Orchestrator) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	session, err := o.chats.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, err
}

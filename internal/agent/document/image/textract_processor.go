// Package image OCRs page scans with AWS Textract.
package image

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/tiff": true,
}

// TextractAPI is the slice of the Textract client used here.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
	EnableTable   bool
}

type TextractProcessor struct {
	client TextractAPI
	logger logger.Logger
	config *TextractConfig
}

var _ document.Processor = (*TextractProcessor)(nil)

func NewTextractProcessor(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractProcessor, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return NewTextractProcessorWithClient(textract.NewFromConfig(awsCfg), cfg, log), nil
}

func NewTextractProcessorWithClient(client TextractAPI, cfg *TextractConfig, log logger.Logger) *TextractProcessor {
	return &TextractProcessor{client: client, logger: log.Named("textract"), config: cfg}
}

func (p *TextractProcessor) CanProcess(mimeType string) bool {
	return supportedTypes[strings.ToLower(mimeType)]
}

// Process returns the image as a single page: recognised lines in reading order,
// followed by any tables rendered as tab-separated rows.
func (p *TextractProcessor) Process(ctx context.Context, data []byte) ([]models.PageText, error) {
	blocks, err := p.recognise(ctx, data)
	if err != nil {
		var unsupported *types.UnsupportedDocumentException
		var badDoc *types.BadDocumentException
		if errors.As(err, &unsupported) || errors.As(err, &badDoc) {
			return nil, fmt.Errorf("%w: %v", document.ErrMalformed, err)
		}
		return nil, fmt.Errorf("failed to analyze document: %w", err)
	}

	parts := []string{strings.Join(p.lines(blocks), "\n")}
	if p.config.EnableTable {
		parts = append(parts, renderTables(blocks)...)
	}

	text := strings.TrimSpace(strings.Join(parts, "\n\n"))
	p.logger.Debug("image recognised",
		logger.Int("blocks", len(blocks)),
		logger.Int("chars", len(text)),
	)
	return []models.PageText{{Number: 1, Text: text}}, nil
}

// recognise uses the cheaper text detection unless tables were asked for.
func (p *TextractProcessor) recognise(ctx context.Context, data []byte) ([]types.Block, error) {
	doc := &types.Document{Bytes: data}
	if !p.config.EnableTable {
		out, err := p.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{Document: doc})
		if err != nil {
			return nil, err
		}
		return out.Blocks, nil
	}
	out, err := p.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     doc,
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables},
	})
	if err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

func (p *TextractProcessor) lines(blocks []types.Block) []string {
	var texts []string
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < p.config.MinConfidence {
			continue
		}
		texts = append(texts, *block.Text)
	}
	return texts
}

func renderTables(blocks []types.Block) []string {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}

	var tables []string
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeTable {
			continue
		}
		type cell struct {
			row, col int32
			text     string
		}
		var cells []cell
		for _, id := range childIDs(b) {
			c, ok := byID[id]
			if !ok || c.BlockType != types.BlockTypeCell {
				continue
			}
			var words []string
			for _, wid := range childIDs(c) {
				if w, ok := byID[wid]; ok && w.Text != nil {
					words = append(words, *w.Text)
				}
			}
			cells = append(cells, cell{row: deref(c.RowIndex), col: deref(c.ColumnIndex), text: strings.Join(words, " ")})
		}
		sort.Slice(cells, func(i, j int) bool {
			if cells[i].row != cells[j].row {
				return cells[i].row < cells[j].row
			}
			return cells[i].col < cells[j].col
		})

		var sb strings.Builder
		for i, c := range cells {
			if i > 0 {
				if c.row != cells[i-1].row {
					sb.WriteByte('\n')
				} else {
					sb.WriteByte('\t')
				}
			}
			sb.WriteString(c.text)
		}
		if sb.Len() > 0 {
			tables = append(tables, sb.String())
		}
	}
	return tables
}

func childIDs(b types.Block) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}

func deref(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

func (p *TextractProcessor) Close() error {
	return nil
}

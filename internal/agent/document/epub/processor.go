// Package epub reads the spine of an EPUB container and returns one page per
// content document.
package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"path"

	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const MimeType = "application/epub+zip"

type Processor struct {
	logger logger.Logger
}

var _ document.Processor = (*Processor)(nil)

func NewProcessor(log logger.Logger) *Processor {
	return &Processor{logger: log.Named("epub")}
}

func (p *Processor) CanProcess(mimeType string) bool {
	return mimeType == MimeType
}

type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageDoc struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

func (p *Processor) Process(ctx context.Context, data []byte) ([]models.PageText, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", document.ErrMalformed, err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var c container
	if err := decodeXML(files, "META-INF/container.xml", &c); err != nil {
		return nil, err
	}
	if len(c.Rootfiles) == 0 {
		return nil, fmt.Errorf("%w: container.xml lists no rootfile", document.ErrMalformed)
	}
	opfPath := c.Rootfiles[0].FullPath

	var pkg packageDoc
	if err := decodeXML(files, opfPath, &pkg); err != nil {
		return nil, err
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}

	base := path.Dir(opfPath)
	var pages []models.PageText
	for _, ref := range pkg.Spine {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		name := path.Clean(path.Join(base, href))
		f, ok := files[name]
		if !ok {
			p.logger.Warn("spine item missing from archive", logger.String("path", name))
			continue
		}
		text, err := readHTMLText(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", document.ErrMalformed, name, err)
		}
		if text == "" {
			continue
		}
		pages = append(pages, models.PageText{Number: len(pages) + 1, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: epub spine has no readable content", document.ErrMalformed)
	}
	return pages, nil
}

func decodeXML(files map[string]*zip.File, name string, v interface{}) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("%w: missing %s", document.ErrMalformed, name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", document.ErrMalformed, name, err)
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("%w: parse %s: %v", document.ErrMalformed, name, err)
	}
	return nil
}

func readHTMLText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return document.HTMLText(rc)
}

func (p *Processor) Close() error {
	return nil
}

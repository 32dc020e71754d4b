package inlabs

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/yourorg/procurement-sync/internal/normalize"
	"github.com/yourorg/procurement-sync/internal/records"
)

type articleXML struct {
	ID            string  `xml:"id,attr"`
	IDMateria     string  `xml:"idMateria,attr"`
	Name          string  `xml:"name,attr"`
	IDOficio      string  `xml:"idOficio,attr"`
	PubName       string  `xml:"pubName,attr"`
	ArtType       string  `xml:"artType,attr"`
	PubDate       string  `xml:"pubDate,attr"`
	ArtClass      string  `xml:"artClass,attr"`
	ArtCategory   string  `xml:"artCategory,attr"`
	NumberPage    string  `xml:"numberPage,attr"`
	PDFPage       string  `xml:"pdfPage,attr"`
	EditionNumber string  `xml:"editionNumber,attr"`
	Body          bodyXML `xml:"body"`
}

type bodyXML struct {
	Identifica string `xml:"Identifica"`
	Ementa     string `xml:"Ementa"`
	Titulo     string `xml:"Titulo"`
	SubTitulo  string `xml:"SubTitulo"`
	Texto      string `xml:"Texto"`
}

// ParseBundle reads every XML member of an edition archive into articles
// stamped with the edition date and section. Members that fail to parse are
// logged and skipped.
func ParseBundle(log *zap.Logger, b Bundle, date time.Time, section string) ([]records.Article, error) {
	if log == nil {
		log = zap.NewNop()
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	edition := normalize.DateOnly(date)
	var out []records.Article
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".xml") {
			continue
		}
		raw, err := readMember(f)
		if err != nil {
			log.Warn("unreadable bundle member", zap.String("member", f.Name), zap.Error(err))
			continue
		}
		arts, err := decodeArticles(raw)
		if err != nil {
			log.Warn("malformed article xml", zap.String("member", f.Name), zap.Error(err))
			continue
		}
		for _, a := range arts {
			rec, ok := a.toRecord(log, edition, section, rawText(raw))
			if !ok {
				log.Warn("article without id", zap.String("member", f.Name))
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// decodeArticles finds every <article> element, whatever wraps it.
func decodeArticles(raw []byte) ([]articleXML, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel
	var out []articleXML
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "article" {
			continue
		}
		var a articleXML
		if err := dec.DecodeElement(&a, &se); err != nil {
			return out, err
		}
		out = append(out, a)
	}
}

// rawText returns the member as UTF-8. Legacy bundles are windows-1252,
// which also covers their ISO-8859-1 declarations.
func rawText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	r, err := charset.NewReaderLabel("windows-1252", bytes.NewReader(b))
	if err == nil {
		if u, err := io.ReadAll(r); err == nil {
			return string(u)
		}
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func (a articleXML) toRecord(log *zap.Logger, edition time.Time, section, raw string) (records.Article, bool) {
	key := strings.TrimSpace(a.IDMateria)
	if key == "" {
		key = strings.TrimSpace(a.ID)
	}
	if key == "" {
		return records.Article{}, false
	}
	var pub *time.Time
	if t, ok := normalize.ParseDate(a.PubDate); ok {
		t = normalize.DateOnly(t)
		pub = &t
	}
	return records.Article{
		Key:           records.ArticleKey(normalize.Truncate(log, key, 64)),
		ArticleID:     normalize.Truncate(log, a.ID, 64),
		Name:          normalize.Truncate(log, a.Name, 255),
		IDOficio:      normalize.Truncate(log, a.IDOficio, 64),
		PubName:       normalize.Truncate(log, a.PubName, 32),
		ArtType:       normalize.Truncate(log, a.ArtType, 255),
		PubDate:       pub,
		ArtClass:      strings.TrimSpace(a.ArtClass),
		ArtCategory:   strings.TrimSpace(a.ArtCategory),
		NumberPage:    normalize.Truncate(log, a.NumberPage, 16),
		PDFPage:       strings.TrimSpace(a.PDFPage),
		EditionNumber: normalize.Truncate(log, a.EditionNumber, 32),
		Identifica:    HTMLText(a.Body.Identifica),
		Ementa:        HTMLText(a.Body.Ementa),
		Titulo:        HTMLText(a.Body.Titulo),
		SubTitulo:     HTMLText(a.Body.SubTitulo),
		Texto:         HTMLText(a.Body.Texto),
		EditionDate:   edition,
		Section:       normalize.Truncate(log, strings.ToUpper(section), 8),
		RawXML:        raw,
	}, true
}

var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// HTMLText reduces an HTML fragment to plain text: one line per block
// element, runs of whitespace collapsed. Plain text passes through trimmed.
func HTMLText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return strings.Join(strings.Fields(s), " ")
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			return strings.Join(lines, "\n")
		case html.TextToken:
			cur.Write(z.Text())
			cur.WriteByte(' ')
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				flush()
			}
		}
	}
}

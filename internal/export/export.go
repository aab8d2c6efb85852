// Package export renders lookup reports as JSON, YAML or plain text and
// writes them to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/telespot/internal/analysis"
	"github.com/JakeFAU/telespot/internal/hash/sha256"
	"github.com/JakeFAU/telespot/internal/search"
)

// Format selects a renderer.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "txt"
)

const (
	textTopN    = 10
	hashPrefixN = 12
)

// ParseFormat validates a configured format name. "text" is accepted as an
// alias of txt.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatJSON, FormatYAML, FormatText:
		return f, nil
	case "text":
		return FormatText, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q", raw)
	}
}

// FormatFromPath picks the format from a file extension. Anything that is not
// JSON or YAML is written as text.
func FormatFromPath(p string) Format {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Document is the exported form of a run.
type Document struct {
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Version   string            `json:"version" yaml:"version"`
	RunID     string            `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Phone     string            `json:"phone,omitempty" yaml:"phone,omitempty"`
	Partial   bool              `json:"partial,omitempty" yaml:"partial,omitempty"`
	Results   search.ResultSet  `json:"results" yaml:"results"`
	Patterns  analysis.Patterns `json:"patterns" yaml:"patterns"`
}

// Render writes doc to w in the requested format.
func Render(w io.Writer, doc Document, f Format) error {
	if doc.Results == nil {
		doc.Results = search.ResultSet{}
	}
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close yaml encoder: %w", err)
		}
		return nil
	default:
		return renderText(w, doc)
	}
}

func renderText(w io.Writer, doc Document) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Telespot Results - %s\n", doc.Timestamp.Format(time.RFC3339))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	fmt.Fprintf(&b, "Total Results: %d\n", len(doc.Results))
	fmt.Fprintf(&b, "Confidence: %s (%d%%)\n\n", doc.Patterns.Confidence, doc.Patterns.ConfidencePct)
	if doc.Partial {
		b.WriteString("Note: run deadline expired, results are partial\n\n")
	}
	writeCounts(&b, "Names", doc.Patterns.Names)
	writeCounts(&b, "Locations", doc.Patterns.Locations)

	b.WriteString("Results:\n")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	seen := make(map[string]struct{}, len(doc.Results))
	for _, rec := range doc.Results {
		if _, dup := seen[rec.URL]; dup {
			continue
		}
		seen[rec.URL] = struct{}{}
		title := rec.Title
		if title == "" {
			title = "No title"
		}
		fmt.Fprintf(&b, "\n[%s] %s\n  %s\n", rec.Source, title, rec.URL)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write text report: %w", err)
	}
	return nil
}

func writeCounts(b *strings.Builder, heading string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	b.WriteString(heading + ":\n")
	for _, c := range analysis.Top(counts, textTopN) {
		fmt.Fprintf(b, "  %s: %dx\n", c.Value, c.Count)
	}
	b.WriteString("\n")
}

// BlobStore persists rendered reports.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Exporter renders documents and uploads them under content-addressed keys.
type Exporter struct {
	store  BlobStore
	format Format
	hasher *sha256.Hasher
}

// NewExporter returns an Exporter writing format to store.
func NewExporter(store BlobStore, format Format) *Exporter {
	if format == "" {
		format = FormatJSON
	}
	return &Exporter{store: store, format: format, hasher: sha256.New()}
}

// Format reports the exporter's output format.
func (e *Exporter) Format() Format { return e.format }

// Write renders doc and stores it as <phone>/<run id>-<digest>.<ext>.
// It returns the object key and the URI reported by the store.
func (e *Exporter) Write(ctx context.Context, doc Document) (key string, uri string, err error) {
	var buf bytes.Buffer
	if err := Render(&buf, doc, e.format); err != nil {
		return "", "", err
	}
	key = ObjectKey(doc, e.hasher.Short(buf.Bytes(), hashPrefixN), e.format)
	uri, err = e.store.PutObject(ctx, key, e.format.ContentType(), &buf)
	if err != nil {
		return "", "", fmt.Errorf("store report: %w", err)
	}
	return key, uri, nil
}

// ObjectKey builds the storage key of a rendered report.
func ObjectKey(doc Document, digest string, f Format) string {
	phone := doc.Phone
	if phone == "" {
		phone = "unknown"
	}
	name := digest
	if doc.RunID != "" {
		name = doc.RunID + "-" + digest
	}
	return path.Join(phone, name+"."+string(f))
}

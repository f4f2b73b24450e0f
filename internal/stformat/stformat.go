// Package stformat converts classified corpora into the shared-task
// annotation archives used for result exchange, and compares two such
// archives structurally. An archive is a tar.gz of per-document
// annotation files.
package stformat

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"textrain/internal/corpus"
	"textrain/internal/ctxlog"
)

// Options control archive writing.
type Options struct {
	// Scores adds a .scores member beside every annotation file.
	Scores bool
	// Confidence maps corpus annotation ids to classifier confidences
	// for the score lines. Missing ids score zero.
	Confidence map[string]float64
}

// Write converts a classified corpus into an annotation archive: one .a2
// member per document holding the predicted entities and interactions,
// plus a .scores member per document when enabled. Given entities are
// input rather than prediction, so they get no lines of their own but
// stay referencable as interaction arguments.
func Write(ctx context.Context, c *corpus.Corpus, outPath string, opts Options) error {
	logger := ctxlog.FromContext(ctx)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	tw := tar.NewWriter(zw)
	for _, doc := range c.Documents {
		lines, scores := convertDocument(doc, opts.Confidence)
		if err := addMember(tw, doc.ID+".a2", lines); err != nil {
			return err
		}
		if opts.Scores {
			if err := addMember(tw, doc.ID+".a2.scores", scores); err != nil {
				return err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("write archive %s: %w", outPath, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("write archive %s: %w", outPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write archive %s: %w", outPath, err)
	}
	logger.Info("wrote event archive", "path", outPath, "documents", len(c.Documents), "scores", opts.Scores)
	return nil
}

// convertDocument renders one document's annotation lines. Every entity
// gets a slot in a single T sequence so interaction arguments resolve
// whether they point at given or predicted entities.
func convertDocument(doc *corpus.Document, confidence map[string]float64) (lines, scores []string) {
	tids := make(map[string]string, len(doc.Entities))
	for i, e := range doc.Entities {
		tids[e.ID] = fmt.Sprintf("T%d", i+1)
	}
	modifiers := 0
	for _, e := range doc.Entities {
		if e.Given {
			continue
		}
		offset := strings.Replace(e.Offset, "-", " ", 1)
		lines = append(lines, fmt.Sprintf("%s\t%s %s\t%s", tids[e.ID], e.Type, offset, e.Text))
		scores = append(scores, fmt.Sprintf("%s\t%.6f", tids[e.ID], confidence[e.ID]))
		if e.Negation {
			modifiers++
			lines = append(lines, fmt.Sprintf("M%d\tNegation %s", modifiers, tids[e.ID]))
		}
		if e.Speculation {
			modifiers++
			lines = append(lines, fmt.Sprintf("M%d\tSpeculation %s", modifiers, tids[e.ID]))
		}
	}
	for i, in := range doc.Interactions {
		e1, ok1 := tids[in.E1]
		e2, ok2 := tids[in.E2]
		if !ok1 || !ok2 {
			continue
		}
		id := fmt.Sprintf("R%d", i+1)
		lines = append(lines, fmt.Sprintf("%s\t%s Arg1:%s Arg2:%s", id, in.Type, e1, e2))
		scores = append(scores, fmt.Sprintf("%s\t%.6f", id, confidence[in.ID]))
	}
	return lines, scores
}

func addMember(tw *tar.Writer, name string, lines []string) error {
	body := ""
	if len(lines) > 0 {
		body = strings.Join(lines, "\n") + "\n"
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(body)),
		ModTime: time.Unix(0, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write archive member %s: %w", name, err)
	}
	if _, err := io.WriteString(tw, body); err != nil {
		return fmt.Errorf("write archive member %s: %w", name, err)
	}
	return nil
}

// Report summarizes both sides of an archive comparison. The archives
// hold different document sets (test predictions against devel
// predictions), so the comparison is distributional: annotation file
// counts and per-type annotation counts side by side.
type Report struct {
	DocsA   int
	DocsB   int
	CountsA map[string]int
	CountsB map[string]int
}

// Types lists every annotation type seen on either side, sorted.
func (r *Report) Types() []string {
	seen := map[string]bool{}
	for typ := range r.CountsA {
		seen[typ] = true
	}
	for typ := range r.CountsB {
		seen[typ] = true
	}
	types := make([]string, 0, len(seen))
	for typ := range seen {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Compare reads the members carrying the given annotation suffix from
// both archives and reports their counts side by side. An annotation
// type present in the second archive but absent from the first is
// logged as a warning; differences are never errors.
func Compare(ctx context.Context, aPath, bPath, suffix string) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("comparing event archives", "a", aPath, "b", bPath, "suffix", suffix)
	docsA, countsA, err := readArchive(aPath, suffix)
	if err != nil {
		return nil, err
	}
	docsB, countsB, err := readArchive(bPath, suffix)
	if err != nil {
		return nil, err
	}
	r := &Report{DocsA: docsA, DocsB: docsB, CountsA: countsA, CountsB: countsB}
	logger.Info("annotation files", "a", docsA, "b", docsB)
	for _, typ := range r.Types() {
		logger.Info("annotation counts", "type", typ, "a", countsA[typ], "b", countsB[typ])
	}
	for _, typ := range r.Types() {
		if countsB[typ] > 0 && countsA[typ] == 0 {
			logger.Warn("annotation type missing from archive", "type", typ, "path", aPath)
		}
	}
	if docsA == 0 {
		logger.Warn("archive has no annotation files", "path", aPath, "suffix", suffix)
	}
	return r, nil
}

func readArchive(path, suffix string) (int, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return 0, nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	docs := 0
	counts := map[string]int{}
	dotted := "." + strings.TrimPrefix(suffix, ".")
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, fmt.Errorf("read archive %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, dotted) {
			continue
		}
		docs++
		data, err := io.ReadAll(tr)
		if err != nil {
			return 0, nil, fmt.Errorf("read archive member %s: %w", hdr.Name, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if typ := annotationType(line); typ != "" {
				counts[typ]++
			}
		}
	}
	return docs, counts, nil
}

// annotationType extracts the type token of one annotation line: the
// first space-separated word after the id column.
func annotationType(line string) string {
	_, rest, ok := strings.Cut(line, "\t")
	if !ok {
		return ""
	}
	typ, _, _ := strings.Cut(rest, " ")
	return typ
}

// Package corpus reads and derives the interaction-graph corpus files the
// pipeline trains on. Files are XML, transparently gzipped when the path
// ends in ".gz".
package corpus

import (
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// Corpus is a set of annotated documents.
type Corpus struct {
	XMLName   xml.Name    `xml:"corpus"`
	Source    string      `xml:"source,attr,omitempty"`
	Documents []*Document `xml:"document"`
}

// Document is one corpus unit: its text plus entity and interaction
// annotations. Set carries the fold label used by fold slicing.
type Document struct {
	ID           string         `xml:"id,attr"`
	Set          string         `xml:"set,attr,omitempty"`
	Text         string         `xml:"text,attr,omitempty"`
	Entities     []*Entity      `xml:"entity"`
	Interactions []*Interaction `xml:"interaction"`
}

// Entity is a typed text span. Given entities are part of the input
// (named entities handed to the pipeline), the rest are gold annotation.
type Entity struct {
	ID          string `xml:"id,attr"`
	Type        string `xml:"type,attr"`
	Text        string `xml:"text,attr,omitempty"`
	Offset      string `xml:"charOffset,attr,omitempty"`
	Given       bool   `xml:"isName,attr,omitempty"`
	Negation    bool   `xml:"negation,attr,omitempty"`
	Speculation bool   `xml:"speculation,attr,omitempty"`
}

// Interaction is a typed, directed pair of entities.
type Interaction struct {
	ID   string `xml:"id,attr"`
	Type string `xml:"type,attr"`
	E1   string `xml:"e1,attr"`
	E2   string `xml:"e2,attr"`
}

// Counts summarizes a corpus for logging.
type Counts struct {
	Documents    int
	Entities     int
	Given        int
	Interactions int
}

// Counts tallies the corpus contents.
func (c *Corpus) Counts() Counts {
	n := Counts{Documents: len(c.Documents)}
	for _, d := range c.Documents {
		n.Interactions += len(d.Interactions)
		n.Entities += len(d.Entities)
		for _, e := range d.Entities {
			if e.Given {
				n.Given++
			}
		}
	}
	return n
}

// Load reads a corpus file.
func Load(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open corpus %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	var c Corpus
	if err := xml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode corpus %s: %w", path, err)
	}
	return &c, nil
}

// Save writes a corpus file, creating parent directories as needed.
func Save(c *Corpus, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save corpus: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save corpus: %w", err)
	}
	defer f.Close()
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		defer zw.Close()
		w = zw
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("save corpus: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode corpus %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode corpus %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("save corpus %s: %w", path, err)
		}
	}
	return f.Close()
}

// Catenate merges the documents of the input corpora into one archive, in
// input order, and returns the output path.
func Catenate(inputs []string, out string) (string, error) {
	merged := &Corpus{}
	for _, in := range inputs {
		c, err := Load(in)
		if err != nil {
			return "", err
		}
		if merged.Source == "" {
			merged.Source = c.Source
		}
		merged.Documents = append(merged.Documents, c.Documents...)
	}
	if err := Save(merged, out); err != nil {
		return "", err
	}
	return out, nil
}

// Sample writes a deterministic fractional sample of the input: documents
// are kept while a seeded per-document draw stays below the fraction.
func Sample(in, out string, fraction float64, seed int64) error {
	c, err := Load(in)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(seed))
	kept := &Corpus{Source: c.Source}
	for _, d := range c.Documents {
		if rng.Float64() < fraction {
			kept.Documents = append(kept.Documents, d)
		}
	}
	return Save(kept, out)
}

// FilterBySet writes the documents whose set label is in labels.
func FilterBySet(in, out string, labels []string) error {
	c, err := Load(in)
	if err != nil {
		return err
	}
	want := map[string]bool{}
	for _, l := range labels {
		want[l] = true
	}
	kept := &Corpus{Source: c.Source}
	for _, d := range c.Documents {
		if want[d.Set] {
			kept.Documents = append(kept.Documents, d)
		}
	}
	return Save(kept, out)
}

// StripCorpus returns a copy of the corpus with the gold annotation
// removed: all interactions, all non-given entities, and the given ones
// too when removeNames is set.
func StripCorpus(c *Corpus, removeNames bool) *Corpus {
	out := &Corpus{Source: c.Source}
	for _, d := range c.Documents {
		nd := &Document{ID: d.ID, Set: d.Set, Text: d.Text}
		if !removeNames {
			for _, e := range d.Entities {
				if e.Given {
					ne := *e
					nd.Entities = append(nd.Entities, &ne)
				}
			}
		}
		out.Documents = append(out.Documents, nd)
	}
	return out
}

// Strip writes an annotation-stripped copy of the input file.
func Strip(in, out string, removeNames bool) error {
	c, err := Load(in)
	if err != nil {
		return err
	}
	return Save(StripCorpus(c, removeNames), out)
}

// Stats tallies the contents of a corpus file.
func Stats(path string) (Counts, error) {
	c, err := Load(path)
	if err != nil {
		return Counts{}, err
	}
	return c.Counts(), nil
}

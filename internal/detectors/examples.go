package detectors

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"textrain/internal/corpus"
	"textrain/internal/params"
)

// example is one classification instance: a labeled feature set tied to
// the span or annotation it scores.
type example struct {
	Doc      string   `json:"doc"`
	Label    string   `json:"label"`
	Features []string `json:"features"`
	// Ref identifies what the example scores: a character span
	// "start-end" for trigger candidates, an entity pair "e1|e2" for
	// pair candidates.
	Ref  string `json:"ref,omitempty"`
	Text string `json:"text,omitempty"`
}

// tokenSpan is a candidate trigger location, offsets inclusive.
type tokenSpan struct {
	Text  string
	Start int
	End   int
}

const edgePunct = ".,;:!?()[]{}\"'"

// tokenize splits text into space-separated tokens with edge punctuation
// trimmed, keeping the character offsets of what remains.
func tokenize(text string) []tokenSpan {
	var out []tokenSpan
	i := 0
	for i < len(text) {
		if text[i] == ' ' || text[i] == '\n' || text[i] == '\t' {
			i++
			continue
		}
		j := i
		for j < len(text) && text[j] != ' ' && text[j] != '\n' && text[j] != '\t' {
			j++
		}
		start, end := i, j
		for start < end && strings.IndexByte(edgePunct, text[start]) >= 0 {
			start++
		}
		for end > start && strings.IndexByte(edgePunct, text[end-1]) >= 0 {
			end--
		}
		if end > start {
			out = append(out, tokenSpan{Text: text[start:end], Start: start, End: end - 1})
		}
		i = j
	}
	return out
}

func spanOffset(s tokenSpan) string {
	return strconv.Itoa(s.Start) + "-" + strconv.Itoa(s.End)
}

// tokenFeatures renders the surface features of one token in context.
func tokenFeatures(tokens []tokenSpan, i int) []string {
	t := tokens[i].Text
	lower := strings.ToLower(t)
	feats := []string{"txt=" + lower}
	if n := len(lower); n > 3 {
		feats = append(feats, "pre="+lower[:3], "suf="+lower[n-3:])
	}
	if t != lower {
		feats = append(feats, "cap")
	}
	if i > 0 {
		feats = append(feats, "prev="+strings.ToLower(tokens[i-1].Text))
	}
	if i+1 < len(tokens) {
		feats = append(feats, "next="+strings.ToLower(tokens[i+1].Text))
	}
	return feats
}

// triggerCandidates builds one candidate per token, labeled by the
// non-given entity covering the same span. With phrases set, adjacent
// token pairs become candidates too (coreference mentions are usually
// longer than one word). The entities style flag adds the document's
// given entity types as context features.
func triggerCandidates(doc *corpus.Document, style *params.Set, phrases bool) []example {
	gold := map[string]string{}
	for _, e := range doc.Entities {
		if e.Given {
			continue
		}
		if _, ok := gold[e.Offset]; !ok {
			gold[e.Offset] = e.Type
		}
	}
	var docFeats []string
	if style.Has("entities") {
		seen := map[string]bool{}
		for _, e := range doc.Entities {
			if e.Given && !seen[e.Type] {
				seen[e.Type] = true
				docFeats = append(docFeats, "ent="+e.Type)
			}
		}
	}
	tokens := tokenize(doc.Text)
	var out []example
	add := func(span tokenSpan, feats []string) {
		label := gold[spanOffset(span)]
		if label == "" {
			label = negLabel
		}
		out = append(out, example{
			Doc:      doc.ID,
			Label:    label,
			Features: append(feats, docFeats...),
			Ref:      spanOffset(span),
			Text:     span.Text,
		})
	}
	for i, tok := range tokens {
		add(tok, tokenFeatures(tokens, i))
	}
	if phrases {
		for i := 0; i+1 < len(tokens); i++ {
			a, b := tokens[i], tokens[i+1]
			span := tokenSpan{Text: doc.Text[a.Start : b.End+1], Start: a.Start, End: b.End}
			feats := []string{
				"txt=" + strings.ToLower(span.Text),
				"head=" + strings.ToLower(b.Text),
				"phrase",
			}
			add(span, feats)
		}
	}
	return out
}

// pairExample builds the feature set for one entity pair. The typed
// style flag adds the oriented type pair, entities adds the surface
// forms; other style flags pass through the builder untouched.
func pairExample(doc *corpus.Document, e1, e2 *corpus.Entity, style *params.Set) example {
	feats := []string{"t1=" + e1.Type, "t2=" + e2.Type}
	if style.Has("typed") {
		feats = append(feats, "tp="+e1.Type+">"+e2.Type)
	}
	if style.Has("entities") {
		feats = append(feats, "s1="+strings.ToLower(e1.Text), "s2="+strings.ToLower(e2.Text))
	}
	feats = append(feats, "dist="+distanceBucket(e1.Offset, e2.Offset))
	return example{Doc: doc.ID, Features: feats, Ref: e1.ID + "|" + e2.ID}
}

// distanceBucket coarsens the character distance between two spans.
func distanceBucket(a, b string) string {
	d := offsetStart(b) - offsetStart(a)
	if d < 0 {
		d = -d
	}
	switch {
	case d < 10:
		return "near"
	case d < 50:
		return "mid"
	}
	return "far"
}

func offsetStart(offset string) int {
	s, _, _ := strings.Cut(offset, "-")
	n, _ := strconv.Atoi(s)
	return n
}

// edgeCandidates builds one example per entity pair, labeled by the
// interaction connecting the pair. The directed style flag keeps both
// orientations as distinct candidates; without it each unordered pair
// appears once and matches either orientation.
func edgeCandidates(doc *corpus.Document, style *params.Set) []example {
	directed := style.Has("directed")
	gold := map[string]string{}
	for _, in := range doc.Interactions {
		key := in.E1 + "|" + in.E2
		if _, ok := gold[key]; !ok {
			gold[key] = in.Type
		}
	}
	var out []example
	for i, e1 := range doc.Entities {
		for j, e2 := range doc.Entities {
			if i == j {
				continue
			}
			if !directed && j < i {
				continue
			}
			ex := pairExample(doc, e1, e2, style)
			ex.Label = gold[e1.ID+"|"+e2.ID]
			if ex.Label == "" && !directed {
				ex.Label = gold[e2.ID+"|"+e1.ID]
			}
			if ex.Label == "" {
				ex.Label = negLabel
			}
			out = append(out, ex)
		}
	}
	return out
}

// unmergingCandidates builds keep/remove examples around event-bearing
// entities: pairs connected in gold are kept, other pairs leaving the
// same first argument are removed. The resulting model prunes predicted
// interactions that do not look like real event arguments.
func unmergingCandidates(doc *corpus.Document, style *params.Set) []example {
	outgoing := map[string]map[string]bool{}
	for _, in := range doc.Interactions {
		m := outgoing[in.E1]
		if m == nil {
			m = map[string]bool{}
			outgoing[in.E1] = m
		}
		m[in.E2] = true
	}
	var out []example
	for _, e1 := range doc.Entities {
		connected := outgoing[e1.ID]
		if len(connected) == 0 {
			continue
		}
		for _, e2 := range doc.Entities {
			if e2.ID == e1.ID {
				continue
			}
			ex := pairExample(doc, e1, e2, style)
			if connected[e2.ID] {
				ex.Label = keepLabel
			} else {
				ex.Label = negLabel
			}
			out = append(out, ex)
		}
	}
	return out
}

// modifierCues are the surface words the modifier stage reads from the
// document text.
var modifierCues = []string{"not", "no", "without", "failed", "may", "might", "suggest", "possible", "unclear"}

// modifierExample builds the feature set for predicting negation and
// speculation on one entity.
func modifierExample(doc *corpus.Document, e *corpus.Entity, style *params.Set) example {
	feats := []string{"t=" + e.Type, "txt=" + strings.ToLower(e.Text)}
	if style.Has("entities") {
		feats = append(feats, "src="+strings.ToLower(doc.ID))
	}
	text := " " + strings.ToLower(doc.Text) + " "
	for _, cue := range modifierCues {
		if strings.Contains(text, " "+cue+" ") {
			feats = append(feats, "cue="+cue)
		}
	}
	return example{Doc: doc.ID, Features: feats, Ref: e.ID, Text: e.Text}
}

// modifierCandidates labels each non-given entity with its modifier
// combination.
func modifierCandidates(doc *corpus.Document, style *params.Set) []example {
	var out []example
	for _, e := range doc.Entities {
		if e.Given {
			continue
		}
		ex := modifierExample(doc, e, style)
		switch {
		case e.Negation && e.Speculation:
			ex.Label = "negation-speculation"
		case e.Negation:
			ex.Label = "negation"
		case e.Speculation:
			ex.Label = "speculation"
		default:
			ex.Label = negLabel
		}
		out = append(out, ex)
	}
	return out
}

// buildExamples applies a document builder over a whole corpus.
func buildExamples(c *corpus.Corpus, build func(*corpus.Document) []example) []example {
	var out []example
	for _, doc := range c.Documents {
		out = append(out, build(doc)...)
	}
	return out
}

// writeExamples caches built examples as gzipped JSON.
func writeExamples(path string, examples []example) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write examples: %w", err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(examples); err != nil {
		return fmt.Errorf("write examples %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("write examples %s: %w", path, err)
	}
	return f.Close()
}

// readExamples loads a cached example file.
func readExamples(path string) ([]example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read examples: %w", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read examples %s: %w", path, err)
	}
	defer zr.Close()
	var out []example
	if err := json.NewDecoder(zr).Decode(&out); err != nil {
		return nil, fmt.Errorf("read examples %s: %w", path, err)
	}
	return out, nil
}

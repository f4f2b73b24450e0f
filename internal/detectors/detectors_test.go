package detectors_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"textrain/internal/corpus"
	"textrain/internal/detectors"
	"textrain/internal/domain"
	"textrain/internal/model"
	"textrain/internal/params"
)

func saveCorpus(t *testing.T, c *corpus.Corpus, path string) string {
	t.Helper()
	if err := corpus.Save(c, path); err != nil {
		t.Fatalf("save corpus: %v", err)
	}
	return path
}

func modelValue(t *testing.T, path, key string) string {
	t.Helper()
	m, err := model.Open(path, model.Read)
	if err != nil {
		t.Fatalf("open model %s: %v", path, err)
	}
	defer m.Close()
	v, err := m.GetStr(key)
	if err != nil {
		t.Fatalf("model %s: get %s: %v", path, key, err)
	}
	return v
}

// eventCorpus builds documents of the shape "KINAn phosphorylates
// TARGn" with given proteins, a gold trigger and its Theme and Cause
// arguments. All names are five characters, so spans line up across
// documents and the surface patterns are learnable.
func eventCorpus(ids ...int) *corpus.Corpus {
	c := &corpus.Corpus{Source: "unit"}
	for _, i := range ids {
		id := fmt.Sprintf("d%d", i)
		c.Documents = append(c.Documents, &corpus.Document{
			ID:   id,
			Text: fmt.Sprintf("KINA%d phosphorylates TARG%d", i, i),
			Entities: []*corpus.Entity{
				{ID: id + ".e1", Type: "Protein", Text: fmt.Sprintf("KINA%d", i), Offset: "0-4", Given: true},
				{ID: id + ".e2", Type: "Protein", Text: fmt.Sprintf("TARG%d", i), Offset: "21-25", Given: true},
				{ID: id + ".e3", Type: "Phosphorylation", Text: "phosphorylates", Offset: "6-19"},
			},
			Interactions: []*corpus.Interaction{
				{ID: id + ".i1", Type: "Theme", E1: id + ".e3", E2: id + ".e2"},
				{ID: id + ".i2", Type: "Cause", E1: id + ".e3", E2: id + ".e1"},
			},
		})
	}
	return c
}

// pairCorpus builds documents with two given entities of distinct types
// and one gold interaction between them, the single-stage shape.
func pairCorpus(ids ...int) *corpus.Corpus {
	c := &corpus.Corpus{Source: "unit"}
	for _, i := range ids {
		id := fmt.Sprintf("d%d", i)
		c.Documents = append(c.Documents, &corpus.Document{
			ID:   id,
			Text: fmt.Sprintf("KINA%d binds TARG%d", i, i),
			Entities: []*corpus.Entity{
				{ID: id + ".e1", Type: "Kinase", Text: fmt.Sprintf("KINA%d", i), Offset: "0-4", Given: true},
				{ID: id + ".e2", Type: "Substrate", Text: fmt.Sprintf("TARG%d", i), Offset: "12-16", Given: true},
			},
			Interactions: []*corpus.Interaction{
				{ID: id + ".i1", Type: "Theme", E1: id + ".e1", E2: id + ".e2"},
			},
		})
	}
	return c
}

func TestRegistry(t *testing.T) {
	names := detectors.Names()
	want := []string{domain.DetectorCoref, domain.DetectorEdge, domain.DetectorEvent}
	if len(names) != len(want) {
		t.Fatalf("registered %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("registered %v, want %v", names, want)
		}
	}
	d, err := detectors.New(domain.DetectorEvent)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if d.Name() != domain.DetectorEvent || d.SingleStage() {
		t.Fatalf("event detector: name %q single-stage %v", d.Name(), d.SingleStage())
	}
	e, err := detectors.New(domain.DetectorEdge)
	if err != nil {
		t.Fatalf("new edge: %v", err)
	}
	if !e.SingleStage() {
		t.Fatalf("edge detector is not single-stage")
	}
	if _, err := detectors.New("bogus"); !errors.Is(err, detectors.ErrUnknownDetector) {
		t.Fatalf("unknown detector: %v", err)
	}
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "model-devel")
	m, err := model.Open(path, model.Append)
	if err != nil {
		t.Fatalf("open model: %v", err)
	}
	if err := m.AddStr("detector", domain.DetectorEdge); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	m.Close()

	d, err := detectors.Acquire(ctx, "", filepath.Join(dir, "missing"), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if d.Name() != domain.DetectorEdge {
		t.Fatalf("acquired %q", d.Name())
	}
	if d, err := detectors.Acquire(ctx, domain.DetectorEvent, path); err != nil || d.Name() != domain.DetectorEvent {
		t.Fatalf("explicit name lost: %v %v", d, err)
	}
	if _, err := detectors.Acquire(ctx, "", domain.None, filepath.Join(dir, "missing")); !domain.IsConfig(err) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestEventDetectorRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	train := saveCorpus(t, eventCorpus(0, 1, 2, 3, 4, 5), filepath.Join(dir, "train.xml.gz"))
	devel := saveCorpus(t, eventCorpus(8, 9), filepath.Join(dir, "devel.xml.gz"))
	develModel := filepath.Join(dir, "model-devel")
	testModel := filepath.Join(dir, "model-test")
	spec := detectors.TrainSpec{
		TrainFile:      train,
		DevelFile:      devel,
		DevelModel:     develModel,
		TestModel:      testModel,
		Task:           "GE11",
		Parse:          "McCC",
		TriggerStyle:   "typed",
		EdgeStyle:      "typed:directed:entities",
		UnmergingStyle: "typed",
		ModifierStyle:  "typed",
		TriggerGrid:    "c=2,0:threshold",
		RecallGrid:     "1.0,0.6",
		EdgeGrid:       "c=0",
		UnmergingGrid:  "c=0",
		ModifierGrid:   "c=0",
		Unmerging:      true,
		Modifiers:      true,
		WorkDir:        filepath.Join(dir, "train-work"),
	}

	d, err := detectors.New(domain.DetectorEvent)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := d.Train(ctx, spec); err != nil {
		t.Fatalf("train: %v", err)
	}
	if got := modelValue(t, develModel, "task"); got != "GE11" {
		t.Fatalf("task key %q", got)
	}
	if got := modelValue(t, develModel, "trigger-classifier-parameter"); got != "c=2" {
		t.Fatalf("trigger parameter %q", got)
	}
	if got := modelValue(t, develModel, "recall-adjust-parameter"); got != "1" {
		t.Fatalf("recall adjust %q", got)
	}
	for _, key := range []string{"edge-weights", "unmerging-weights", "modifiers-weights"} {
		if modelValue(t, develModel, key) == "" {
			t.Fatalf("missing %s", key)
		}
	}
	if _, err := os.Stat(testModel); err != nil {
		t.Fatalf("test model: %v", err)
	}

	// Resuming at FINALIZE reuses the cached examples and the tuned
	// parameters stored in the devel model.
	spec.FromStep = "FINALIZE"
	spec.TestModel = filepath.Join(dir, "model-test2")
	dr, err := detectors.New(domain.DetectorEvent)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := dr.Train(ctx, spec); err != nil {
		t.Fatalf("resumed train: %v", err)
	}
	if got := modelValue(t, spec.TestModel, "trigger-classifier-parameter"); got != "c=2" {
		t.Fatalf("resumed test model parameter %q", got)
	}

	prefix := filepath.Join(dir, "out", "devel")
	cspec := detectors.ClassifySpec{
		Input:   devel,
		Model:   develModel,
		Output:  prefix,
		Gold:    devel,
		WorkDir: filepath.Join(dir, "classify-work"),
	}
	dc, err := detectors.New(domain.DetectorEvent)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dc.SetEvaluation(params.MustParse("convert"))
	if err := dc.Classify(ctx, cspec); err != nil {
		t.Fatalf("classify: %v", err)
	}
	pred, err := corpus.Load(prefix + "-pred.xml.gz")
	if err != nil {
		t.Fatalf("load predictions: %v", err)
	}
	for _, doc := range pred.Documents {
		if len(doc.Entities) != 3 || len(doc.Interactions) != 2 {
			t.Fatalf("document %s predicted %d entities, %d interactions",
				doc.ID, len(doc.Entities), len(doc.Interactions))
		}
	}
	if _, err := os.Stat(prefix + "-events.tar.gz"); err != nil {
		t.Fatalf("events archive: %v", err)
	}
	data, err := os.ReadFile(prefix + "-eval.json")
	if err != nil {
		t.Fatalf("evaluation: %v", err)
	}
	var report struct {
		Overall struct {
			F1 float64 `json:"fscore"`
		} `json:"overall"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode evaluation: %v", err)
	}
	if report.Overall.F1 != 1 {
		t.Fatalf("overall fscore %v", report.Overall.F1)
	}

	// Resuming at EVALUATE must not need the model or the input: the
	// predicted corpus on disk carries the phase.
	if err := os.Rename(develModel, develModel+".gone"); err != nil {
		t.Fatalf("rename model: %v", err)
	}
	if err := os.Remove(prefix + "-eval.json"); err != nil {
		t.Fatalf("remove evaluation: %v", err)
	}
	cspec.FromStep = "EVALUATE"
	de, err := detectors.New(domain.DetectorEvent)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := de.Classify(ctx, cspec); err != nil {
		t.Fatalf("resumed classify: %v", err)
	}
	if _, err := os.Stat(prefix + "-eval.json"); err != nil {
		t.Fatalf("resumed evaluation: %v", err)
	}
}

func TestEdgeDetectorRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	train := saveCorpus(t, pairCorpus(0, 1, 2, 3, 4, 5), filepath.Join(dir, "train.xml.gz"))
	devel := saveCorpus(t, pairCorpus(8, 9), filepath.Join(dir, "devel.xml.gz"))
	develModel := filepath.Join(dir, "model-devel")
	spec := detectors.TrainSpec{
		TrainFile:     train,
		DevelFile:     devel,
		DevelModel:    develModel,
		TestModel:     domain.None,
		Task:          "DDI11",
		ExamplesStyle: "typed:directed",
		ExamplesGrid:  "c=0",
		WorkDir:       filepath.Join(dir, "train-work"),
	}
	d, err := detectors.New(domain.DetectorEdge)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := d.Train(ctx, spec); err != nil {
		t.Fatalf("train: %v", err)
	}
	if got := modelValue(t, develModel, "examples-classifier-parameter"); got != "c=0" {
		t.Fatalf("examples parameter %q", got)
	}

	prefix := filepath.Join(dir, "out", "devel")
	cspec := detectors.ClassifySpec{
		Input:   devel,
		Model:   develModel,
		Output:  prefix,
		Gold:    devel,
		WorkDir: filepath.Join(dir, "classify-work"),
	}
	dc, err := detectors.New(domain.DetectorEdge)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := dc.Classify(ctx, cspec); err != nil {
		t.Fatalf("classify: %v", err)
	}
	pred, err := corpus.Load(prefix + "-pred.xml.gz")
	if err != nil {
		t.Fatalf("load predictions: %v", err)
	}
	for _, doc := range pred.Documents {
		if len(doc.Interactions) != 1 {
			t.Fatalf("document %s predicted %d interactions", doc.ID, len(doc.Interactions))
		}
		if doc.Interactions[0].Type != "Theme" {
			t.Fatalf("document %s predicted %q", doc.ID, doc.Interactions[0].Type)
		}
	}
	data, err := os.ReadFile(prefix + "-eval.json")
	if err != nil {
		t.Fatalf("evaluation: %v", err)
	}
	var report struct {
		Interactions struct {
			F1 float64 `json:"fscore"`
		} `json:"interactions"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode evaluation: %v", err)
	}
	if report.Interactions.F1 != 1 {
		t.Fatalf("interaction fscore %v", report.Interactions.F1)
	}
}

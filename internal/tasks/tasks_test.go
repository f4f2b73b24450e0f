package tasks

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"textrain/internal/corpus"
	"textrain/internal/domain"
)

func resolve(t *testing.T, id string, o Overrides) *Profile {
	t.Helper()
	p, err := Resolve(context.Background(), id, o)
	if err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
	return p
}

func TestRenamingTaskDefaults(t *testing.T) {
	p := resolve(t, "REN11", Overrides{CorpusDir: "/corpora"})
	if p.Detector != domain.DetectorEdge || !p.SingleStage {
		t.Fatalf("detector = %s single=%v, want single-stage edge", p.Detector, p.SingleStage)
	}
	if !strings.Contains(p.ExamplesStyle, "bacteria_renaming") {
		t.Fatalf("examples style = %q", p.ExamplesStyle)
	}
	if p.ExamplesGrid != singleStageGrids["REN11"] {
		t.Fatalf("examples grid = %q", p.ExamplesGrid)
	}
	if p.Evaluation != "convert:evaluate:scores" {
		t.Fatalf("evaluation = %q", p.Evaluation)
	}
	if p.Unmerging {
		t.Fatalf("single-stage resolution applied the unmerging default")
	}
	if p.Files.Train != filepath.Join("/corpora", "REN11-train.xml") {
		t.Fatalf("train file = %q", p.Files.Train)
	}
}

func TestFullBacteriaEvaluationGroup(t *testing.T) {
	p := resolve(t, "BI11-FULL", Overrides{CorpusDir: "/corpora"})
	if p.Evaluation != "convert:scores" {
		t.Fatalf("evaluation = %q, want convert:scores", p.Evaluation)
	}
	if p.Files.Devel != filepath.Join("/corpora", "BI11-devel.xml") {
		t.Fatalf("coverage suffix leaked into corpus path: %q", p.Files.Devel)
	}
	if p.Unmerging {
		t.Fatalf("unmerging should default off for BI11-FULL")
	}
	if p.TriggerStyle != "build_for_nameless:names" {
		t.Fatalf("trigger style = %q", p.TriggerStyle)
	}
	if !p.RemoveNamesFromEmpty {
		t.Fatalf("names flag in trigger style should strip names from the empty set")
	}
}

func TestDrugTasksHaveNoEvaluationDefault(t *testing.T) {
	p := resolve(t, "DDI11", Overrides{CorpusDir: "/c"})
	if p.Evaluation != "" {
		t.Fatalf("evaluation = %q, want none", p.Evaluation)
	}
	if !strings.Contains(p.ExamplesGrid, "threshold") {
		t.Fatalf("examples grid = %q, want threshold flag", p.ExamplesGrid)
	}
	if p.Preprocessor != "intermediateFiles:omitSteps=NER,DIVIDE-SETS" {
		t.Fatalf("preprocessor = %q", p.Preprocessor)
	}
}

func TestGeniaSubTaskOne(t *testing.T) {
	p := resolve(t, "GE11.1", Overrides{CorpusDir: "/c"})
	if p.SubTask != 1 {
		t.Fatalf("sub-task = %d", p.SubTask)
	}
	if !strings.HasSuffix(p.EdgeStyle, ":genia_task1") {
		t.Fatalf("edge style = %q", p.EdgeStyle)
	}
	if p.TriggerStyle != "genia_task1" {
		t.Fatalf("trigger style = %q", p.TriggerStyle)
	}
	if p.Files.Train != filepath.Join("/c", "GE11-train.xml") {
		t.Fatalf("train file = %q", p.Files.Train)
	}
	if p.DetectorTask != "GE11.1" {
		t.Fatalf("detector task = %q", p.DetectorTask)
	}
	if !p.Modifiers {
		t.Fatalf("GE11 should default to modifier prediction")
	}
	two := resolve(t, "GE11", Overrides{CorpusDir: "/c"})
	if two.SubTask != 2 || strings.Contains(two.EdgeStyle, "genia_task1") {
		t.Fatalf("default sub-task resolution wrong: %d %q", two.SubTask, two.EdgeStyle)
	}
}

func TestMiniSuffixKeepsCorpusVariant(t *testing.T) {
	p := resolve(t, "GE11-MINI", Overrides{CorpusDir: "/c"})
	if p.Files.Train != filepath.Join("/c", "GE11-MINI-train.xml") {
		t.Fatalf("train file = %q", p.Files.Train)
	}
	full := resolve(t, "GE11", Overrides{CorpusDir: "/c"})
	if p.EdgeStyle != full.EdgeStyle || p.Modifiers != full.Modifiers {
		t.Fatalf("size variant changed the defaults")
	}
	if p.DetectorTask != "GE11" {
		t.Fatalf("detector task = %q", p.DetectorTask)
	}
}

func TestUnknownTask(t *testing.T) {
	_, err := Resolve(context.Background(), "GE42", Overrides{})
	if err == nil || !domain.IsConfig(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOverridesSurviveResolution(t *testing.T) {
	no := false
	o := Overrides{
		CorpusDir:  "/c",
		Detector:   domain.DetectorEvent,
		EdgeStyle:  "typed:directed",
		EdgeGrid:   "c=1,2",
		Evaluation: "convert",
		Unmerging:  &no,
		Files:      domain.FileSet{Train: "/data/my-train.xml"},
	}
	p := resolve(t, "GE11", o)
	if p.Detector != domain.DetectorEvent {
		t.Fatalf("detector override lost: %s", p.Detector)
	}
	if p.EdgeStyle != "typed:directed" || p.EdgeGrid != "c=1,2" {
		t.Fatalf("edge overrides lost: %q %q", p.EdgeStyle, p.EdgeGrid)
	}
	if p.Evaluation != "convert" {
		t.Fatalf("evaluation override lost: %q", p.Evaluation)
	}
	if p.Unmerging {
		t.Fatalf("unmerging override lost")
	}
	if p.Files.Train != "/data/my-train.xml" {
		t.Fatalf("train override lost: %q", p.Files.Train)
	}
	if p.Files.Devel != filepath.Join("/c", "GE11-devel.xml") {
		t.Fatalf("unset devel slot not defaulted: %q", p.Files.Devel)
	}
}

func TestResolutionDeterministic(t *testing.T) {
	for _, id := range Recognized() {
		a := resolve(t, id, Overrides{CorpusDir: "/c", PlanOnly: true})
		b := resolve(t, id, Overrides{CorpusDir: "/c", PlanOnly: true})
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("resolving %s twice differed", id)
		}
	}
}

func TestDisabledSlotNotDefaulted(t *testing.T) {
	p := resolve(t, "GE11", Overrides{
		CorpusDir: "/c",
		Files:     domain.FileSet{Devel: domain.None, Test: domain.None},
	})
	if !domain.IsNone(p.Files.Devel) || !domain.IsNone(p.Files.Test) {
		t.Fatalf("disabled slots were filled: %+v", p.Files)
	}
}

func TestCoreferenceDefaults(t *testing.T) {
	p := resolve(t, "CO11", Overrides{CorpusDir: "/c"})
	if p.Detector != domain.DetectorCoref || p.SingleStage {
		t.Fatalf("detector = %s single=%v", p.Detector, p.SingleStage)
	}
	if p.Unmerging {
		t.Fatalf("CO11 should not unmerge")
	}
	if p.RecallGrid != "0.8,0.9,0.95,1.0" {
		t.Fatalf("recall grid = %q", p.RecallGrid)
	}
	if p.TriggerStyle != "" {
		t.Fatalf("trigger style = %q, want none", p.TriggerStyle)
	}
}

func TestDerivedTrainFileForInfectiousDiseases(t *testing.T) {
	corpusDir := t.TempDir()
	deriveDir := filepath.Join(t.TempDir(), "training")
	seed := func(name string, docs int) {
		c := &corpus.Corpus{}
		for i := 0; i < docs; i++ {
			c.Documents = append(c.Documents, &corpus.Document{ID: name + "-" + string(rune('a'+i))})
		}
		if err := corpus.Save(c, filepath.Join(corpusDir, name)); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	seed("ID11-train.xml", 2)
	seed("GE11-devel.xml", 1)
	seed("GE11-train.xml", 3)

	p := resolve(t, "ID11", Overrides{CorpusDir: corpusDir, DeriveDir: deriveDir})
	want := filepath.Join(deriveDir, "ID11-train-and-GE11-devel-and-train.xml.gz")
	if p.Files.Train != want {
		t.Fatalf("train file = %q, want %q", p.Files.Train, want)
	}
	merged, err := corpus.Load(want)
	if err != nil {
		t.Fatalf("load derived: %v", err)
	}
	if len(merged.Documents) != 6 {
		t.Fatalf("derived corpus has %d documents, want 6", len(merged.Documents))
	}

	// An existing derived file must be reused, not recomputed.
	marker := &corpus.Corpus{Documents: []*corpus.Document{{ID: "marker"}}}
	if err := corpus.Save(marker, want); err != nil {
		t.Fatalf("overwrite derived: %v", err)
	}
	p = resolve(t, "ID11", Overrides{CorpusDir: corpusDir, DeriveDir: deriveDir})
	again, err := corpus.Load(p.Files.Train)
	if err != nil {
		t.Fatalf("reload derived: %v", err)
	}
	if len(again.Documents) != 1 || again.Documents[0].ID != "marker" {
		t.Fatalf("derived file was recomputed")
	}
}

func TestPlanOnlySkipsDerivation(t *testing.T) {
	deriveDir := filepath.Join(t.TempDir(), "training")
	p := resolve(t, "ID11", Overrides{CorpusDir: "/nowhere", DeriveDir: deriveDir, PlanOnly: true})
	if p.Files.Train == "" {
		t.Fatalf("plan-only resolution left train unset")
	}
	if _, err := os.Stat(p.Files.Train); err == nil {
		t.Fatalf("plan-only resolution materialized %s", p.Files.Train)
	}
}

func TestNoTaskAppliesNoDefaults(t *testing.T) {
	p := resolve(t, "", Overrides{ExamplesStyle: "typed:names", SingleStage: true})
	if p.Detector != "" || p.Evaluation != "" || p.EdgeGrid != "" {
		t.Fatalf("defaults applied without a task: %+v", p)
	}
	if !p.RemoveNamesFromEmpty {
		t.Fatalf("names flag in override style should still be honored")
	}
}

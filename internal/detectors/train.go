package detectors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"textrain/internal/corpus"
	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/model"
	"textrain/internal/params"
	"textrain/internal/steps"
)

// Training substeps and classification substeps, in execution order.
var (
	trainSubsteps    = []string{"EXAMPLES", "MODELS", "GRID", "FINALIZE"}
	classifySubsteps = []string{"CLASSIFY", "EVALUATE"}
)

// Stage names used for model keys and grid caches.
const (
	stageExamples  = "examples"
	stageTrigger   = "trigger"
	stageEdge      = "edge"
	stageUnmerging = "unmerging"
	stageModifiers = "modifiers"
)

// stageSpec describes one trainable stage.
type stageSpec struct {
	name      string
	style     *params.Set
	grid      []int
	threshold bool
	build     func(*corpus.Document) []example
}

// tuned is the grid outcome for one stage.
type tuned struct {
	c     int
	model *learner
	score scoreSummary
}

// exampleSets keys built examples by stage and dataset role.
type exampleSets map[string][]example

func setKey(stage, role string) string { return stage + "/" + role }

func examplePath(dir, stage, role string) string {
	return filepath.Join(dir, stage+"-"+role+"-examples.json.gz")
}

// chainTuning re-tunes stages that interact, after the standalone
// sweeps. Implementations may replace chosen models in place.
type chainTuning func(ctx context.Context, chosen map[string]*tuned, sets exampleSets, develCorpus *corpus.Corpus, modelDir string) error

// runTraining drives the shared training skeleton over a detector's
// stages: EXAMPLES builds and caches classification instances, MODELS
// trains one model per grid point, GRID picks the best by devel F-score
// and runs the chained tuning, FINALIZE writes the model artifacts.
// Skipped substeps read what an earlier run left in the work dir.
func runTraining(ctx context.Context, d *base, spec TrainSpec, stages []stageSpec, tune chainTuning) error {
	logger := ctxlog.FromContext(ctx)
	sel := steps.NewSelector(trainSubsteps, spec.FromStep, nil)

	trainCorpus, err := corpus.Load(spec.TrainFile)
	if err != nil {
		return err
	}
	develCorpus, err := corpus.Load(spec.DevelFile)
	if err != nil {
		return err
	}
	counts := trainCorpus.Counts()
	logger.Info("loaded training data",
		"documents", counts.Documents, "entities", counts.Entities, "interactions", counts.Interactions)

	exampleDir, err := d.jobDir(spec.WorkDir, "examples")
	if err != nil {
		return err
	}
	modelDir, err := d.jobDir(spec.WorkDir, "models")
	if err != nil {
		return err
	}

	datasets := []struct {
		role string
		c    *corpus.Corpus
	}{
		{"train", trainCorpus},
		{"devel", develCorpus},
	}
	sets := exampleSets{}
	if sel.ShouldRun(ctx, "EXAMPLES") {
		for _, st := range stages {
			for _, ds := range datasets {
				exs := buildExamples(ds.c, st.build)
				if err := writeExamples(examplePath(exampleDir, st.name, ds.role), exs); err != nil {
					return err
				}
				logger.Info("built examples", "stage", st.name, "dataset", ds.role, "count", len(exs))
				sets[setKey(st.name, ds.role)] = exs
			}
		}
	} else {
		for _, st := range stages {
			for _, ds := range datasets {
				exs, err := readExamples(examplePath(exampleDir, st.name, ds.role))
				if err != nil {
					return fmt.Errorf("resume training: %w", err)
				}
				sets[setKey(st.name, ds.role)] = exs
			}
		}
	}

	if sel.ShouldRun(ctx, "MODELS") {
		for _, st := range stages {
			for _, c := range st.grid {
				if _, err := gridModel(modelDir, st.name, c, sets[setKey(st.name, "train")]); err != nil {
					return err
				}
			}
			logger.Info("trained grid models", "stage", st.name, "points", len(st.grid))
		}
	}

	chosen := map[string]*tuned{}
	if sel.ShouldRun(ctx, "GRID") {
		for _, st := range stages {
			t, err := pickBest(ctx, modelDir, st, sets)
			if err != nil {
				return err
			}
			if st.threshold {
				t.model.tuneThresholds(ctx, sets[setKey(st.name, "devel")])
			}
			chosen[st.name] = t
		}
		if tune != nil {
			if err := tune(ctx, chosen, sets, develCorpus, modelDir); err != nil {
				return err
			}
		}
	} else if err := reloadTuned(ctx, spec.DevelModel, stages, chosen); err != nil {
		return err
	}

	if !sel.ShouldRun(ctx, "FINALIZE") {
		return nil
	}
	if domain.IsSet(spec.DevelModel) {
		if err := writeArtifact(ctx, spec, spec.DevelModel, stages, chosen, false, sets); err != nil {
			return err
		}
	}
	if domain.IsSet(spec.TestModel) {
		if err := writeArtifact(ctx, spec, spec.TestModel, stages, chosen, true, sets); err != nil {
			return err
		}
	}
	return nil
}

// gridModel returns the trained model for one grid point, training and
// caching it when the cache holds no usable entry.
func gridModel(modelDir, stage string, c int, trainEx []example) (*learner, error) {
	path := filepath.Join(modelDir, fmt.Sprintf("%s-c%d.json", stage, c))
	if data, err := os.ReadFile(path); err == nil {
		if l, err := decodeLearner(string(data)); err == nil {
			return l, nil
		}
	}
	l := trainLearner(trainEx, c)
	encoded, err := l.encode()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(encoded), 0o644); err != nil {
		return nil, fmt.Errorf("cache grid model: %w", err)
	}
	return l, nil
}

// pickBest evaluates every grid point of a stage on the devel examples
// and keeps the best F-score. Earlier points win ties, so sweeps are
// deterministic.
func pickBest(ctx context.Context, modelDir string, st stageSpec, sets exampleSets) (*tuned, error) {
	logger := ctxlog.FromContext(ctx)
	trainEx := sets[setKey(st.name, "train")]
	develEx := sets[setKey(st.name, "devel")]
	var best *tuned
	for _, c := range st.grid {
		l, err := gridModel(modelDir, st.name, c, trainEx)
		if err != nil {
			return nil, err
		}
		s := l.evaluateExamples(develEx)
		logger.Info("grid point", "stage", st.name, "c", c, "fscore", s.F1)
		if best == nil || s.F1 > best.score.F1 {
			best = &tuned{c: c, model: l, score: s}
		}
	}
	logger.Info("selected classifier parameter", "stage", st.name, "c", best.c, "fscore", best.score.F1)
	return best, nil
}

// reloadTuned reads the stage choices of an earlier grid run from the
// devel model artifact, for runs resumed at FINALIZE.
func reloadTuned(ctx context.Context, develModel string, stages []stageSpec, chosen map[string]*tuned) error {
	if !domain.IsSet(develModel) {
		return domain.Configf("resuming training at FINALIZE needs a devel model with tuned parameters")
	}
	m, err := model.Open(develModel, model.Read)
	if err != nil {
		return fmt.Errorf("resume training: %w", err)
	}
	defer m.Close()
	for _, st := range stages {
		weights, err := m.GetStr(st.name + "-weights")
		if err != nil {
			return fmt.Errorf("resume training, stage %s: %w", st.name, err)
		}
		l, err := decodeLearner(weights)
		if err != nil {
			return err
		}
		param, err := m.GetStr(st.name + "-classifier-parameter")
		if err != nil {
			return fmt.Errorf("resume training, stage %s: %w", st.name, err)
		}
		set, err := params.Parse(param, nil)
		if err != nil {
			return err
		}
		c, _ := strconv.Atoi(set.Get("c"))
		chosen[st.name] = &tuned{c: c, model: l}
	}
	ctxlog.FromContext(ctx).Info("reusing tuned parameters", "model", develModel)
	return nil
}

// writeArtifact stores the stage models and their chosen parameters in
// one model file. The combined artifact (the test model) retrains each
// stage on train plus devel examples under the parameters chosen for
// the devel model.
func writeArtifact(ctx context.Context, spec TrainSpec, path string, stages []stageSpec, chosen map[string]*tuned, combined bool, sets exampleSets) error {
	logger := ctxlog.FromContext(ctx)
	m, err := model.Open(path, model.Append)
	if err != nil {
		return err
	}
	defer m.Close()
	if spec.Task != "" {
		if err := m.AddStr("task", spec.Task); err != nil {
			return err
		}
	}
	if spec.Parse != "" {
		if err := m.AddStr("parse", spec.Parse); err != nil {
			return err
		}
	}
	for _, st := range stages {
		t := chosen[st.name]
		if t == nil {
			return fmt.Errorf("stage %s was not tuned", st.name)
		}
		l := t.model
		if combined {
			all := append(append([]example{}, sets[setKey(st.name, "train")]...), sets[setKey(st.name, "devel")]...)
			l = trainLearner(all, t.c)
			l.Biases = t.model.Biases
			l.NegScale = t.model.NegScale
		}
		encoded, err := l.encode()
		if err != nil {
			return err
		}
		if err := m.AddStr(st.name+"-example-style", st.style.String()); err != nil {
			return err
		}
		if err := m.AddStr(st.name+"-classifier-parameter", fmt.Sprintf("c=%d", t.c)); err != nil {
			return err
		}
		if err := m.AddStr(st.name+"-weights", encoded); err != nil {
			return err
		}
		for _, label := range sortedBiasLabels(l.Biases) {
			if err := m.AddStr("threshold-"+label, strconv.FormatFloat(l.Biases[label], 'g', -1, 64)); err != nil {
				return err
			}
		}
		if st.name == stageTrigger {
			if err := m.AddStr("recall-adjust-parameter", strconv.FormatFloat(l.negScale(), 'g', -1, 64)); err != nil {
				return err
			}
		}
	}
	if err := m.Save(); err != nil {
		return err
	}
	logger.Info("saved model", "path", path, "stages", len(stages))
	return nil
}

func sortedBiasLabels(biases map[string]float64) []string {
	labels := make([]string, 0, len(biases))
	for label := range biases {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Package pipeline drives a complete training run: output directory
// setup, task profile resolution, data slicing, the four fixed phases
// and the workspace run ledger. Phases run strictly in order; the
// selector decides which of them run at all.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"textrain/internal/connection"
	"textrain/internal/corpus"
	"textrain/internal/ctxlog"
	"textrain/internal/detectors"
	"textrain/internal/domain"
	"textrain/internal/model"
	"textrain/internal/params"
	"textrain/internal/runlog"
	"textrain/internal/split"
	"textrain/internal/steps"
	"textrain/internal/stformat"
	"textrain/internal/tasks"
	"textrain/internal/workdir"
)

const (
	defaultDevelModel = "model-devel"
	defaultTestModel  = "model-test"
	defaultParse      = "McCC"
)

// Options aggregates everything a training run needs. String slots left
// empty fall back to task defaults; the sentinel "none" disables a slot
// explicitly.
type Options struct {
	// Output is the run's output directory (required).
	Output string
	// DeleteOutput removes an existing output directory first. CopyFrom
	// seeds the output directory from a template instead of starting
	// empty, replacing whatever was there.
	DeleteOutput bool
	CopyFrom     string

	Task     string
	Detector string
	// SingleStage forces the single-stage training path. Only the edge
	// detector supports it.
	SingleStage bool

	Files      domain.FileSet
	DevelModel string
	TestModel  string
	Parse      string

	// Unmerging and Modifiers are tri-state: nil takes the task default.
	Unmerging *bool
	Modifiers *bool
	FullGrid  bool

	Evaluation   string
	Preprocessor string

	ExamplesStyle  string
	TriggerStyle   string
	EdgeStyle      string
	UnmergingStyle string
	ModifierStyle  string

	ExamplesGrid  string
	TriggerGrid   string
	RecallGrid    string
	EdgeGrid      string
	UnmergingGrid string
	ModifierGrid  string

	// Step is the resume spec, OmitSteps the phases (or substeps) to
	// leave out.
	Step      string
	OmitSteps string
	Subset    string
	Folds     string

	Connection string
	Debug      bool

	// Workspace hosts the run ledger; CorpusDir roots the default task
	// input paths.
	Workspace string
	CorpusDir string

	// LogFile tees run logging into the output directory; empty
	// disables the tee. LogHandler builds the slog handler over the
	// teed writer and defaults to a plain text handler.
	LogFile    string
	LogHandler func(io.Writer) slog.Handler
}

// Run drives one training run end to end. Configuration problems abort
// before any phase executes; detector errors propagate unmodified.
func Run(ctx context.Context, o Options) error {
	if o.Output == "" {
		return domain.Configf("no output directory given")
	}
	dir, err := workdir.Prepare(ctx, o.Output, o.DeleteOutput, o.CopyFrom)
	if err != nil {
		return err
	}
	ctx, closeLog, err := teeLog(ctx, dir, o)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := ctxlog.FromContext(ctx)

	r := &run{o: o, dir: dir, files: o.Files}
	r.develModel = modelTarget(dir, o.DevelModel, defaultDevelModel)
	r.testModel = modelTarget(dir, o.TestModel, defaultTestModel)
	r.parse = params.ApplyDefault(o.Parse, defaultParse)

	if err := r.resolve(ctx); err != nil {
		return err
	}
	if err := r.derive(ctx); err != nil {
		return err
	}
	logger.Info("input files", "train", r.files.Train, "devel", r.files.Devel, "test", r.files.Test)
	logger.Info("model targets", "devel", r.develModel, "test", r.testModel)

	plan, err := steps.ParsePlan(o.Step, o.OmitSteps, domain.Phases())
	if err != nil {
		return err
	}
	r.plan = plan
	r.sel = plan.Selector()

	if err := r.acquire(ctx); err != nil {
		return err
	}

	r.rec = runlog.Begin(ctx, o.Workspace, domain.Run{
		OutputDir:  dir.Root(),
		Task:       o.Task,
		Detector:   r.det.Name(),
		Connection: r.conn.Name(),
	})
	for _, d := range r.derived {
		r.rec.Event(ctx, domain.EventInputDerived, "", d)
	}
	err = r.phases(ctx)
	r.rec.Finish(ctx, err)
	return err
}

// run carries the resolved state of one training run between stages.
type run struct {
	o   Options
	dir *workdir.Dir

	files      domain.FileSet
	develModel string
	testModel  string
	parse      string

	profile      *tasks.Profile
	plan         *steps.Plan
	sel          *steps.Selector
	det          detectors.Detector
	conn         *connection.Connection
	evaluation   *params.Set
	preprocessor string

	derived []map[string]any
	rec     *runlog.Recorder
}

// modelTarget resolves a model slot: the default name applies when the
// slot is empty, the sentinel disables it, and relative paths land
// under the output directory.
func modelTarget(dir *workdir.Dir, v, def string) string {
	v = params.ApplyDefault(v, def)
	if domain.IsNone(v) {
		return ""
	}
	if filepath.IsAbs(v) {
		return v
	}
	return dir.Path(v)
}

func (r *run) resolve(ctx context.Context) error {
	profile, err := tasks.Resolve(ctx, r.o.Task, tasks.Overrides{
		Detector:    r.o.Detector,
		SingleStage: r.o.SingleStage,
		Unmerging:   r.o.Unmerging,
		Modifiers:   r.o.Modifiers,

		Evaluation:   r.o.Evaluation,
		Preprocessor: r.o.Preprocessor,

		ExamplesStyle:  r.o.ExamplesStyle,
		TriggerStyle:   r.o.TriggerStyle,
		EdgeStyle:      r.o.EdgeStyle,
		UnmergingStyle: r.o.UnmergingStyle,
		ModifierStyle:  r.o.ModifierStyle,

		ExamplesGrid:  r.o.ExamplesGrid,
		TriggerGrid:   r.o.TriggerGrid,
		RecallGrid:    r.o.RecallGrid,
		EdgeGrid:      r.o.EdgeGrid,
		UnmergingGrid: r.o.UnmergingGrid,
		ModifierGrid:  r.o.ModifierGrid,

		Files:     r.files,
		CorpusDir: r.o.CorpusDir,
		DeriveDir: r.dir.Path("training"),
	})
	if err != nil {
		return err
	}
	r.profile = profile
	r.files = profile.Files
	return nil
}

// derive applies fold and then subset slicing into the training dir and
// notes every repointed input for the ledger.
func (r *run) derive(ctx context.Context) error {
	before := r.files
	sliceDir := r.dir.Path("training")
	if err := split.Folds(ctx, &r.files, r.o.Folds, sliceDir); err != nil {
		return err
	}
	if err := split.Subsets(ctx, &r.files, r.o.Subset, sliceDir); err != nil {
		return err
	}
	for _, role := range domain.Datasets() {
		now := r.files.Get(role)
		if now == before.Get(role) || !domain.IsSet(now) {
			continue
		}
		payload := map[string]any{"dataset": role, "path": now}
		if counts, err := corpus.Stats(now); err == nil {
			payload["documents"] = counts.Documents
			payload["entities"] = counts.Entities
			payload["interactions"] = counts.Interactions
		}
		r.derived = append(r.derived, payload)
	}
	return nil
}

// acquire resolves the detector and its environment. The detector name
// can come from the profile or, on resumed runs, from a model artifact.
func (r *run) acquire(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	name := r.profile.Detector
	if name == "" && r.profile.SingleStage {
		name = domain.DetectorEdge
		logger.Info("single-stage run, defaulting detector", "detector", name)
	}
	det, err := detectors.Acquire(ctx, name, r.develModel, r.testModel)
	if err != nil {
		return err
	}
	if r.o.SingleStage && !det.SingleStage() {
		return domain.Configf("detector %q does not support single-stage training", det.Name())
	}
	conn, err := connection.Parse(r.o.Connection, r.o.Debug)
	if err != nil {
		return err
	}
	evaluation, err := params.Parse(r.profile.Evaluation, nil)
	if err != nil {
		return err
	}
	if r.profile.Preprocessor != "" {
		set, err := params.Parse(r.profile.Preprocessor, nil)
		if err != nil {
			return err
		}
		r.preprocessor = set.String()
	}
	det.SetDebug(r.o.Debug)
	det.SetConnection(conn)
	det.SetEvaluation(evaluation)
	if r.o.DeleteOutput {
		if err := conn.ClearWorkDir(ctx); err != nil {
			return err
		}
	}
	r.det, r.conn, r.evaluation = det, conn, evaluation
	return nil
}

// phases executes the fixed phase table. A probe lets a phase bow out
// with a reason instead of running; a body error stops the run.
func (r *run) phases(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	table := []struct {
		name  string
		probe func(context.Context) map[string]any
		body  func(context.Context) error
	}{
		{domain.PhaseTrain, nil, r.train},
		{domain.PhaseDevel, nil, r.devel},
		{domain.PhaseEmpty, nil, r.empty},
		{domain.PhaseTest, r.testInputMissing, r.test},
	}
	for _, p := range table {
		if !r.sel.ShouldRun(ctx, p.name) {
			r.rec.Event(ctx, domain.EventPhaseSkipped, p.name, nil)
			continue
		}
		if p.probe != nil {
			if skip := p.probe(ctx); skip != nil {
				r.rec.Event(ctx, domain.EventPhaseSkipped, p.name, skip)
				continue
			}
		}
		r.rec.Event(ctx, domain.EventPhaseStarted, p.name, nil)
		if err := p.body(ctx); err != nil {
			logger.Error("phase failed", "phase", p.name, "error", err)
			return err
		}
		r.rec.Event(ctx, domain.EventPhaseFinished, p.name, nil)
	}
	return nil
}

// train runs the TRAIN phase and annotates the produced models.
func (r *run) train(ctx context.Context) error {
	ctxlog.FromContext(ctx).Info("training detector", "detector", r.det.Name(), "train", r.files.Train, "devel", r.files.Devel)
	spec := detectors.TrainSpec{
		TrainFile:  r.files.Train,
		DevelFile:  r.files.Devel,
		DevelModel: r.develModel,
		TestModel:  r.testModel,

		Task:  r.profile.DetectorTask,
		Parse: r.parse,

		ExamplesStyle:  r.profile.ExamplesStyle,
		TriggerStyle:   r.profile.TriggerStyle,
		EdgeStyle:      r.profile.EdgeStyle,
		UnmergingStyle: r.profile.UnmergingStyle,
		ModifierStyle:  r.profile.ModifierStyle,

		ExamplesGrid:  r.profile.ExamplesGrid,
		TriggerGrid:   r.profile.TriggerGrid,
		RecallGrid:    r.profile.RecallGrid,
		EdgeGrid:      r.profile.EdgeGrid,
		UnmergingGrid: r.profile.UnmergingGrid,
		ModifierGrid:  r.profile.ModifierGrid,

		Unmerging: r.profile.Unmerging,
		Modifiers: r.profile.Modifiers,
		FullGrid:  r.o.FullGrid,

		FromStep: r.plan.Substeps[domain.PhaseTrain],
		WorkDir:  r.dir.Path("training"),
	}
	if err := r.det.Train(ctx, spec); err != nil {
		return err
	}
	return r.annotateModels(ctx)
}

// annotateModels stamps each model target that training produced with
// the detector name and the resolved preprocessor parameters.
func (r *run) annotateModels(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	for _, target := range []string{r.develModel, r.testModel} {
		if !domain.IsSet(target) {
			continue
		}
		if _, err := os.Stat(target); err != nil {
			continue
		}
		m, err := model.Open(target, model.Append)
		if err != nil {
			return err
		}
		if err := annotate(m, r.det.Name(), r.preprocessor); err != nil {
			m.Close()
			return err
		}
		if err := m.Close(); err != nil {
			return err
		}
		logger.Info("annotated model", "model", target, "detector", r.det.Name())
		r.rec.Event(ctx, domain.EventModelAnnotated, domain.PhaseTrain, map[string]any{"model": target})
	}
	return nil
}

func annotate(m *model.Model, detector, preprocessor string) error {
	if err := m.AddStr("detector", detector); err != nil {
		return err
	}
	if preprocessor != "" {
		if err := m.AddStr("preprocessorParams", preprocessor); err != nil {
			return err
		}
	}
	return m.Save()
}

// devel classifies the devel set with the devel model against gold.
func (r *run) devel(ctx context.Context) error {
	if !domain.IsSet(r.develModel) {
		return domain.Configf("DEVEL phase needs a devel model, but the slot is disabled")
	}
	if !domain.IsSet(r.files.Devel) {
		return domain.Configf("DEVEL phase needs a devel file")
	}
	ctxlog.FromContext(ctx).Info("checking devel classification")
	return r.det.Classify(ctx, detectors.ClassifySpec{
		Input:    r.files.Devel,
		Model:    r.develModel,
		Output:   r.dir.Path("classification-devel", "devel"),
		Gold:     r.files.Devel,
		FromStep: r.plan.Substeps[domain.PhaseDevel],
		WorkDir:  r.dir.Path("classification-devel"),
	})
}

// empty classifies an annotation-stripped copy of the devel set with
// the devel model. Predictions matching the DEVEL phase show the model
// does not depend on information leaked from gold annotation.
func (r *run) empty(ctx context.Context) error {
	if !domain.IsSet(r.develModel) {
		return domain.Configf("EMPTY phase needs a devel model, but the slot is disabled")
	}
	if !domain.IsSet(r.files.Devel) {
		return domain.Configf("EMPTY phase needs a devel file")
	}
	ctxlog.FromContext(ctx).Info("classifying emptied devel set", "remove_names", r.profile.RemoveNamesFromEmpty)
	input := r.dir.Path("classification-empty", "devel-empty-input.xml.gz")
	if err := corpus.Strip(r.files.Devel, input, r.profile.RemoveNamesFromEmpty); err != nil {
		return err
	}
	return r.det.Classify(ctx, detectors.ClassifySpec{
		Input:    input,
		Model:    r.develModel,
		Output:   r.dir.Path("classification-empty", "devel-empty"),
		FromStep: r.plan.Substeps[domain.PhaseEmpty],
		WorkDir:  r.dir.Path("classification-empty"),
	})
}

// testInputMissing reports why the TEST phase cannot run, or nil when
// the test file is usable. A missing test file is a warning, never an
// error.
func (r *run) testInputMissing(ctx context.Context) map[string]any {
	logger := ctxlog.FromContext(ctx)
	if !domain.IsSet(r.files.Test) {
		logger.Warn("skipping test classification, no test file configured")
		return map[string]any{"reason": "no test file configured"}
	}
	if _, err := os.Stat(r.files.Test); err != nil {
		logger.Warn("skipping test classification, test file does not exist", "path", r.files.Test)
		return map[string]any{"reason": "test file missing", "path": r.files.Test}
	}
	return nil
}

// test classifies the test set with the test model. Score files are
// disabled for this invocation; with conversion enabled the produced
// archive is structurally compared against the devel one.
func (r *run) test(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if !domain.IsSet(r.testModel) {
		return domain.Configf("TEST phase needs a test model, but the slot is disabled")
	}
	logger.Info("classifying test set", "input", r.files.Test)
	r.det.SetEvaluation(r.evaluation.Without("scores"))
	err := r.det.Classify(ctx, detectors.ClassifySpec{
		Input:    r.files.Test,
		Model:    r.testModel,
		Output:   r.dir.Path("classification-test", "test"),
		FromStep: r.plan.Substeps[domain.PhaseTest],
		WorkDir:  r.dir.Path("classification-test"),
	})
	if err != nil {
		return err
	}
	if !r.evaluation.Has("convert") {
		return nil
	}
	develArchive := r.dir.Path("classification-devel", "devel-events.tar.gz")
	if _, err := os.Stat(develArchive); err != nil {
		logger.Warn("no devel archive to compare against", "path", develArchive)
		return nil
	}
	_, err = stformat.Compare(ctx, r.dir.Path("classification-test", "test-events.tar.gz"), develArchive, "a2")
	return err
}

// teeLog rebuilds the context logger so run output also lands in the
// output directory's log file. The file is appended to, so resumed
// runs extend the same log.
func teeLog(ctx context.Context, dir *workdir.Dir, o Options) (context.Context, func(), error) {
	if o.LogFile == "" {
		return ctx, func() {}, nil
	}
	path := dir.Path(o.LogFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open run log: %w", err)
	}
	build := o.LogHandler
	if build == nil {
		build = func(w io.Writer) slog.Handler {
			return slog.NewTextHandler(w, nil)
		}
	}
	logger := slog.New(build(io.MultiWriter(os.Stderr, f)))
	logger.Info("run log open", "path", path)
	return ctxlog.WithLogger(ctx, logger), func() { f.Close() }, nil
}

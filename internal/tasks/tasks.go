// Package tasks resolves a task identifier plus caller overrides into the
// complete training profile: detector choice, input files, example styles,
// classifier grids and evaluation/preprocessor parameters. Resolution is
// pure table lookup; a slot the caller filled is never overwritten.
package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"textrain/internal/corpus"
	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/params"
)

// Profile is a fully resolved training configuration.
type Profile struct {
	// FullID is the task id as supplied, kept for messages.
	FullID string `json:"full_id,omitempty"`
	// DetectorTask is the id handed to detectors: size and coverage
	// suffixes stripped, sub-task kept.
	DetectorTask string `json:"detector_task,omitempty"`
	SubTask      int    `json:"sub_task,omitempty"`

	Detector    string `json:"detector,omitempty"`
	SingleStage bool   `json:"single_stage"`
	Unmerging   bool   `json:"unmerging"`
	Modifiers   bool   `json:"modifiers"`

	Evaluation   string `json:"evaluation,omitempty"`
	Preprocessor string `json:"preprocessor,omitempty"`

	ExamplesStyle  string `json:"examples_style,omitempty"`
	TriggerStyle   string `json:"trigger_style,omitempty"`
	EdgeStyle      string `json:"edge_style,omitempty"`
	UnmergingStyle string `json:"unmerging_style,omitempty"`
	ModifierStyle  string `json:"modifier_style,omitempty"`

	ExamplesGrid  string `json:"examples_grid,omitempty"`
	TriggerGrid   string `json:"trigger_grid,omitempty"`
	RecallGrid    string `json:"recall_grid,omitempty"`
	EdgeGrid      string `json:"edge_grid,omitempty"`
	UnmergingGrid string `json:"unmerging_grid,omitempty"`
	ModifierGrid  string `json:"modifier_grid,omitempty"`

	// RemoveNamesFromEmpty tells the EMPTY phase to strip given entities
	// too, decided by a names flag in the example or trigger style.
	RemoveNamesFromEmpty bool `json:"remove_names_from_empty"`

	Files domain.FileSet `json:"files"`
}

// Overrides are the caller-supplied slots. Empty strings and nil booleans
// leave a slot open for the task default.
type Overrides struct {
	Detector    string
	SingleStage bool
	Unmerging   *bool
	Modifiers   *bool

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

	Files domain.FileSet

	// CorpusDir is the root the default corpus files live under.
	CorpusDir string
	// DeriveDir receives synthesized inputs (the ID11 train archive).
	DeriveDir string
	// PlanOnly resolves paths without materializing derived files, for
	// catalog inspection.
	PlanOnly bool
}

// Resolve builds the training profile for a task id over the overrides.
// An empty id applies no defaults beyond normalizing the overrides.
func Resolve(ctx context.Context, id string, o Overrides) (*Profile, error) {
	logger := ctxlog.FromContext(ctx)
	p := &Profile{
		FullID:      id,
		SubTask:     2,
		Detector:    o.Detector,
		SingleStage: o.SingleStage,

		Evaluation:   o.Evaluation,
		Preprocessor: o.Preprocessor,

		ExamplesStyle:  o.ExamplesStyle,
		TriggerStyle:   o.TriggerStyle,
		EdgeStyle:      o.EdgeStyle,
		UnmergingStyle: o.UnmergingStyle,
		ModifierStyle:  o.ModifierStyle,

		ExamplesGrid:  o.ExamplesGrid,
		TriggerGrid:   o.TriggerGrid,
		RecallGrid:    o.RecallGrid,
		EdgeGrid:      o.EdgeGrid,
		UnmergingGrid: o.UnmergingGrid,
		ModifierGrid:  o.ModifierGrid,

		Files: o.Files,
	}
	if o.Unmerging != nil {
		p.Unmerging = *o.Unmerging
	}
	if o.Modifiers != nil {
		p.Modifiers = *o.Modifiers
	}

	if id != "" {
		logger.Info("determining training settings", "task", id)
		if !isRecognized(strings.ReplaceAll(id, "-MINI", "")) {
			return nil, domain.Configf("unknown task %q (known: %s)", id, strings.Join(recognized, ", "))
		}
		base := id
		if i := strings.Index(base, "."); i >= 0 {
			sub, err := strconv.Atoi(base[i+1:])
			if err != nil {
				return nil, domain.Configf("invalid sub-task in %q", id)
			}
			p.SubTask = sub
			base = base[:i]
		}
		corpusBase := strings.ReplaceAll(base, "-FULL", "")
		tableID := strings.ReplaceAll(base, "-MINI", "")
		p.DetectorTask = strings.ReplaceAll(strings.ReplaceAll(id, "-MINI", ""), "-FULL", "")

		if err := fillInputs(ctx, &p.Files, corpusBase, o); err != nil {
			return nil, err
		}

		if p.Detector == "" {
			name, single := detectorDefault(tableID)
			p.Detector = name
			if single {
				p.SingleStage = true
			}
			logger.Info("detector undefined, using default", "detector", name, "task", id)
		}

		p.Evaluation = params.ApplyDefault(p.Evaluation, evaluationDefault(tableID))
		p.Preprocessor = params.ApplyDefault(p.Preprocessor, preprocessorDefault(tableID))

		if o.Unmerging == nil && !p.SingleStage {
			p.Unmerging = !noUnmerging[tableID]
			logger.Info("unmerging undefined, using default", "unmerging", p.Unmerging, "task", id)
		}
		if o.Modifiers == nil {
			p.Modifiers = withModifiers[tableID]
			logger.Info("modifier prediction undefined, using default", "modifiers", p.Modifiers, "task", id)
		}

		if p.SingleStage {
			p.ExamplesStyle = params.ApplyDefault(p.ExamplesStyle, singleStageStyles[tableID])
			p.ExamplesGrid = params.ApplyDefault(p.ExamplesGrid, singleStageGrids[tableID])
		} else {
			p.EdgeStyle = params.ApplyDefault(p.EdgeStyle, edgeStyleDefault(tableID, p.SubTask))
			p.TriggerStyle = params.ApplyDefault(p.TriggerStyle, triggerStyleDefault(tableID, p.SubTask))
			p.UnmergingStyle = params.ApplyDefault(p.UnmergingStyle, unmergingStyleDefault)
			p.TriggerGrid = params.ApplyDefault(p.TriggerGrid, triggerGrid)
			p.RecallGrid = params.ApplyDefault(p.RecallGrid, recallGrid(tableID))
			p.EdgeGrid = params.ApplyDefault(p.EdgeGrid, edgeGrid(tableID))
			p.UnmergingGrid = params.ApplyDefault(p.UnmergingGrid, unmergingGrid)
			p.ModifierGrid = params.ApplyDefault(p.ModifierGrid, modifierGrid)
		}
	}

	removeFrom := p.TriggerStyle
	if p.SingleStage {
		removeFrom = p.ExamplesStyle
	}
	style, err := params.Parse(removeFrom, nil)
	if err != nil {
		return nil, err
	}
	p.RemoveNamesFromEmpty = style.Has("names")
	return p, nil
}

// fillInputs synthesizes default corpus paths for the unset, non-disabled
// dataset roles. The ID11 train file is special: it is the concatenation
// of the ID11 train set with the GE11 devel and train sets, derived once
// and cached by existence.
func fillInputs(ctx context.Context, files *domain.FileSet, corpusBase string, o Overrides) error {
	logger := ctxlog.FromContext(ctx)
	for _, role := range domain.Datasets() {
		if files.Get(role) != "" {
			continue
		}
		if role == domain.DatasetTrain && corpusBase == "ID11" {
			out := filepath.Join(o.DeriveDir, "ID11-train-and-GE11-devel-and-train.xml.gz")
			if o.PlanOnly {
				files.Put(role, out)
				continue
			}
			if _, err := os.Stat(out); err == nil {
				logger.Info("reusing derived train file", "path", out)
				files.Put(role, out)
				continue
			}
			sources := []string{
				filepath.Join(o.CorpusDir, "ID11-train.xml"),
				filepath.Join(o.CorpusDir, "GE11-devel.xml"),
				filepath.Join(o.CorpusDir, "GE11-train.xml"),
			}
			logger.Info("deriving train file", "path", out, "sources", len(sources))
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("derive train file: %w", err)
			}
			if _, err := corpus.Catenate(sources, out); err != nil {
				return err
			}
			files.Put(role, out)
			continue
		}
		files.Put(role, filepath.Join(o.CorpusDir, corpusBase+"-"+role+".xml"))
	}
	return nil
}

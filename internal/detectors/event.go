package detectors

import (
	"context"
	"errors"

	"textrain/internal/corpus"
	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/model"
	"textrain/internal/params"
)

// multiStage is the trigger/edge pipeline detector: triggers are
// predicted from the document text, interactions between the resulting
// entities, then the optional unmerging and modifier stages refined on
// top. It backs the event and coref registry names.
type multiStage struct {
	base
	// phrases widens trigger candidates to adjacent token pairs.
	phrases bool
}

func newEventDetector() *multiStage {
	return &multiStage{base: base{name: domain.DetectorEvent}}
}

func (d *multiStage) SingleStage() bool { return false }

// stageSpecs assembles the trainable stages for one training run.
func (d *multiStage) stageSpecs(spec TrainSpec) ([]stageSpec, error) {
	trigStyle, err := params.Parse(spec.TriggerStyle, nil)
	if err != nil {
		return nil, err
	}
	edgeStyle, err := params.Parse(spec.EdgeStyle, nil)
	if err != nil {
		return nil, err
	}
	trigGrid, trigThreshold, err := gridValues(spec.TriggerGrid)
	if err != nil {
		return nil, err
	}
	edgeGrid, edgeThreshold, err := gridValues(spec.EdgeGrid)
	if err != nil {
		return nil, err
	}
	stages := []stageSpec{
		{
			name:      stageTrigger,
			style:     trigStyle,
			grid:      trigGrid,
			threshold: trigThreshold,
			build: func(doc *corpus.Document) []example {
				return triggerCandidates(doc, trigStyle, d.phrases)
			},
		},
		{
			name:      stageEdge,
			style:     edgeStyle,
			grid:      edgeGrid,
			threshold: edgeThreshold,
			build: func(doc *corpus.Document) []example {
				return edgeCandidates(doc, edgeStyle)
			},
		},
	}
	if spec.Unmerging {
		style, err := params.Parse(spec.UnmergingStyle, nil)
		if err != nil {
			return nil, err
		}
		grid, threshold, err := gridValues(spec.UnmergingGrid)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stageSpec{
			name:      stageUnmerging,
			style:     style,
			grid:      grid,
			threshold: threshold,
			build: func(doc *corpus.Document) []example {
				return unmergingCandidates(doc, style)
			},
		})
	}
	if spec.Modifiers {
		style, err := params.Parse(spec.ModifierStyle, nil)
		if err != nil {
			return nil, err
		}
		grid, threshold, err := gridValues(spec.ModifierGrid)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stageSpec{
			name:      stageModifiers,
			style:     style,
			grid:      grid,
			threshold: threshold,
			build: func(doc *corpus.Document) []example {
				return modifierCandidates(doc, style)
			},
		})
	}
	return stages, nil
}

func (d *multiStage) Train(ctx context.Context, spec TrainSpec) error {
	stages, err := d.stageSpecs(spec)
	if err != nil {
		return err
	}
	recallGrid, err := recallValues(spec.RecallGrid)
	if err != nil {
		return err
	}
	tune := func(ctx context.Context, chosen map[string]*tuned, sets exampleSets, develCorpus *corpus.Corpus, modelDir string) error {
		return d.sweepRecall(ctx, chosen, sets, develCorpus, modelDir, recallGrid, stages, spec.FullGrid)
	}
	return runTraining(ctx, &d.base, spec, stages, tune)
}

// sweepRecall tunes the trigger model's negative-class multiplier by
// the chained interaction F-score on devel. Under the full grid the
// edge capacity is re-tuned at every multiplier; otherwise the chosen
// edge model is kept and only the multiplier is swept.
func (d *multiStage) sweepRecall(ctx context.Context, chosen map[string]*tuned, sets exampleSets, develCorpus *corpus.Corpus, modelDir string, grid []float64, stages []stageSpec, fullGrid bool) error {
	logger := ctxlog.FromContext(ctx)
	trig, edge := chosen[stageTrigger], chosen[stageEdge]
	trigSpec := stageByName(stages, stageTrigger)
	edgeSpec := stageByName(stages, stageEdge)
	if trig == nil || edge == nil || trigSpec == nil || edgeSpec == nil || len(grid) == 0 {
		return nil
	}
	type candidate struct {
		c int
		l *learner
	}
	edgeCands := []candidate{{edge.c, edge.model}}
	if fullGrid {
		edgeCands = edgeCands[:0]
		for _, c := range edgeSpec.grid {
			l, err := gridModel(modelDir, stageEdge, c, sets[setKey(stageEdge, "train")])
			if err != nil {
				return err
			}
			edgeCands = append(edgeCands, candidate{c, l})
		}
	}
	bestMult, bestEdge := 1.0, edgeCands[0]
	bestScore := scoreSummary{F1: -1}
	for _, mult := range grid {
		adjusted := trig.model.withNegScale(mult)
		for _, ec := range edgeCands {
			s := chainScore(develCorpus, adjusted, ec.l, trigSpec.style, edgeSpec.style, d.phrases)
			if fullGrid {
				logger.Info("recall grid point", "multiplier", mult, "edge_c", ec.c, "fscore", s.F1)
			} else {
				logger.Info("recall grid point", "multiplier", mult, "fscore", s.F1)
			}
			if s.F1 > bestScore.F1 {
				bestMult, bestEdge, bestScore = mult, ec, s
			}
		}
	}
	logger.Info("selected recall adjustment", "multiplier", bestMult, "fscore", bestScore.F1)
	trig.model = trig.model.withNegScale(bestMult)
	if fullGrid && bestEdge.c != edge.c {
		logger.Info("re-selected classifier parameter", "stage", stageEdge, "c", bestEdge.c)
		chosen[stageEdge] = &tuned{c: bestEdge.c, model: bestEdge.l, score: bestScore}
	}
	return nil
}

func stageByName(stages []stageSpec, name string) *stageSpec {
	for i := range stages {
		if stages[i].name == name {
			return &stages[i]
		}
	}
	return nil
}

func (d *multiStage) Classify(ctx context.Context, spec ClassifySpec) error {
	return runClassification(ctx, &d.base, spec, func(ctx context.Context, m *model.Model, c *corpus.Corpus) (map[string]float64, error) {
		trig, trigStyle, err := loadStage(m, stageTrigger)
		if err != nil {
			return nil, err
		}
		edge, edgeStyle, err := loadStage(m, stageEdge)
		if err != nil {
			return nil, err
		}
		conf := predictTriggers(c, trig, trigStyle, d.phrases)
		for id, v := range predictEdges(c, edge, edgeStyle) {
			conf[id] = v
		}
		if unm, unmStyle, err := loadStage(m, stageUnmerging); err == nil {
			pruneInteractions(c, unm, unmStyle, conf)
		} else if !errors.Is(err, model.ErrNoSuchKey) {
			return nil, err
		}
		if mod, modStyle, err := loadStage(m, stageModifiers); err == nil {
			applyModifiers(c, mod, modStyle)
		} else if !errors.Is(err, model.ErrNoSuchKey) {
			return nil, err
		}
		return conf, nil
	})
}

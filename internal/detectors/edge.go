package detectors

import (
	"context"

	"textrain/internal/corpus"
	"textrain/internal/domain"
	"textrain/internal/model"
	"textrain/internal/params"
)

// singleStage classifies interactions between given entities and
// predicts nothing else. Its only trainable stage runs off the
// example-style and example-grid settings.
type singleStage struct {
	base
}

func newEdgeDetector() *singleStage {
	return &singleStage{base: base{name: domain.DetectorEdge}}
}

func (d *singleStage) SingleStage() bool { return true }

func (d *singleStage) stageSpecs(spec TrainSpec) ([]stageSpec, error) {
	style, err := params.Parse(spec.ExamplesStyle, nil)
	if err != nil {
		return nil, err
	}
	grid, threshold, err := gridValues(spec.ExamplesGrid)
	if err != nil {
		return nil, err
	}
	return []stageSpec{{
		name:      stageExamples,
		style:     style,
		grid:      grid,
		threshold: threshold,
		build: func(doc *corpus.Document) []example {
			return edgeCandidates(doc, style)
		},
	}}, nil
}

func (d *singleStage) Train(ctx context.Context, spec TrainSpec) error {
	stages, err := d.stageSpecs(spec)
	if err != nil {
		return err
	}
	return runTraining(ctx, &d.base, spec, stages, nil)
}

func (d *singleStage) Classify(ctx context.Context, spec ClassifySpec) error {
	return runClassification(ctx, &d.base, spec, func(ctx context.Context, m *model.Model, c *corpus.Corpus) (map[string]float64, error) {
		l, style, err := loadStage(m, stageExamples)
		if err != nil {
			return nil, err
		}
		return predictEdges(c, l, style), nil
	})
}

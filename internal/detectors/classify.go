package detectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"textrain/internal/corpus"
	"textrain/internal/ctxlog"
	"textrain/internal/model"
	"textrain/internal/params"
	"textrain/internal/steps"
	"textrain/internal/stformat"
)

// predictFunc applies a detector's stage models to a stripped corpus in
// place and returns the prediction confidences by annotation id.
type predictFunc func(ctx context.Context, m *model.Model, c *corpus.Corpus) (map[string]float64, error)

// evalReport is the scored outcome of a classification phase.
type evalReport struct {
	Entities     scoreSummary `json:"entities"`
	Interactions scoreSummary `json:"interactions"`
	Overall      scoreSummary `json:"overall"`
}

// runClassification drives the shared classification skeleton: CLASSIFY
// strips the input, predicts and writes the outputs; EVALUATE scores
// the predictions against gold. A skipped CLASSIFY reads the predicted
// corpus an earlier run wrote.
func runClassification(ctx context.Context, d *base, spec ClassifySpec, predict predictFunc) error {
	logger := ctxlog.FromContext(ctx)
	sel := steps.NewSelector(classifySubsteps, spec.FromStep, nil)
	if spec.WorkDir != "" {
		if err := os.MkdirAll(spec.WorkDir, 0o755); err != nil {
			return fmt.Errorf("classification work dir: %w", err)
		}
	}
	predPath := spec.Output + "-pred.xml.gz"

	var pred *corpus.Corpus
	if sel.ShouldRun(ctx, "CLASSIFY") {
		in, err := corpus.Load(spec.Input)
		if err != nil {
			return err
		}
		m, err := model.Open(spec.Model, model.Read)
		if err != nil {
			return err
		}
		stripped := corpus.StripCorpus(in, false)
		if d.debug {
			if err := corpus.Save(corpus.StripCorpus(in, false), spec.Output+"-input.xml.gz"); err != nil {
				return err
			}
		}
		conf, err := predict(ctx, m, stripped)
		m.Close()
		if err != nil {
			return err
		}
		pred = stripped
		if err := corpus.Save(pred, predPath); err != nil {
			return err
		}
		counts := pred.Counts()
		logger.Info("wrote classified corpus", "path", predPath,
			"entities", counts.Entities-counts.Given, "interactions", counts.Interactions)
		if archive, scores := d.convert(); archive {
			opts := stformat.Options{Scores: scores, Confidence: conf}
			if err := stformat.Write(ctx, pred, spec.Output+"-events.tar.gz", opts); err != nil {
				return err
			}
		}
	} else {
		var err error
		pred, err = corpus.Load(predPath)
		if err != nil {
			return fmt.Errorf("resume classification: %w", err)
		}
	}

	if spec.Gold != "" && sel.ShouldRun(ctx, "EVALUATE") {
		gold, err := corpus.Load(spec.Gold)
		if err != nil {
			return err
		}
		entities, interactions := evaluateCorpora(pred, gold)
		report := evalReport{
			Entities:     entities,
			Interactions: interactions,
			Overall: summarize(entities.TP+interactions.TP,
				entities.FP+interactions.FP, entities.FN+interactions.FN),
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode evaluation: %w", err)
		}
		evalPath := spec.Output + "-eval.json"
		if err := os.WriteFile(evalPath, data, 0o644); err != nil {
			return fmt.Errorf("write evaluation: %w", err)
		}
		logger.Info("classification performance", "layer", "entities",
			"precision", entities.Precision, "recall", entities.Recall, "fscore", entities.F1)
		logger.Info("classification performance", "layer", "interactions",
			"precision", interactions.Precision, "recall", interactions.Recall, "fscore", interactions.F1)
		logger.Info("wrote evaluation", "path", evalPath)
	}
	return nil
}

// loadStage reads one stage's model and example style from an artifact.
// A missing weights key surfaces as model.ErrNoSuchKey so callers can
// treat optional stages as absent.
func loadStage(m *model.Model, stage string) (*learner, *params.Set, error) {
	weights, err := m.GetStr(stage + "-weights")
	if err != nil {
		return nil, nil, err
	}
	l, err := decodeLearner(weights)
	if err != nil {
		return nil, nil, err
	}
	styleStr, err := m.GetStr(stage + "-example-style")
	if err != nil {
		if !errors.Is(err, model.ErrNoSuchKey) {
			return nil, nil, err
		}
		styleStr = ""
	}
	style, err := params.Parse(styleStr, nil)
	if err != nil {
		return nil, nil, err
	}
	return l, style, nil
}

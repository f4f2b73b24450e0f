package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/params"
)

// negLabel is the label of examples that are not an annotation.
const negLabel = "neg"

// keepLabel marks pairs the unmerging stage accepts as real events.
const keepLabel = "keep"

// learner is the deliberately compact classifier behind every stage: a
// per-label feature-frequency model under a capacity cap. An example
// scores each label by summing its feature weights plus the label bias;
// the negative class score is scaled by the recall multiplier. Higher
// capacity keeps more features per label.
type learner struct {
	Cap      int                           `json:"cap"`
	Weights  map[string]map[string]float64 `json:"weights"`
	Biases   map[string]float64            `json:"biases,omitempty"`
	NegScale float64                       `json:"neg_scale,omitempty"`
}

// trainLearner fits the capacity-capped model: per label, the cap most
// frequent features keep a weight proportional to their frequency among
// that label's examples. Capacity zero keeps everything.
func trainLearner(examples []example, capacity int) *learner {
	counts := map[string]map[string]int{}
	totals := map[string]int{}
	for _, ex := range examples {
		m := counts[ex.Label]
		if m == nil {
			m = map[string]int{}
			counts[ex.Label] = m
		}
		for _, f := range ex.Features {
			m[f]++
		}
		totals[ex.Label]++
	}
	l := &learner{Cap: capacity, Weights: map[string]map[string]float64{}, NegScale: 1}
	for label, m := range counts {
		type featCount struct {
			feat string
			n    int
		}
		feats := make([]featCount, 0, len(m))
		for f, n := range m {
			feats = append(feats, featCount{f, n})
		}
		sort.Slice(feats, func(i, j int) bool {
			if feats[i].n != feats[j].n {
				return feats[i].n > feats[j].n
			}
			return feats[i].feat < feats[j].feat
		})
		if capacity > 0 && len(feats) > capacity {
			feats = feats[:capacity]
		}
		w := make(map[string]float64, len(feats))
		for _, fc := range feats {
			w[fc.feat] = float64(fc.n) / float64(totals[label])
		}
		l.Weights[label] = w
	}
	return l
}

// labels returns the learner's labels with the negative class first, so
// score ties never promote an annotation.
func (l *learner) labels() []string {
	out := make([]string, 0, len(l.Weights))
	for label := range l.Weights {
		if label != negLabel {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	if _, ok := l.Weights[negLabel]; ok {
		out = append([]string{negLabel}, out...)
	}
	return out
}

// predict returns the best label for a feature set and its margin over
// the runner-up. Only a strictly better score beats an earlier label.
func (l *learner) predict(features []string) (string, float64) {
	best, runner := math.Inf(-1), math.Inf(-1)
	bestLabel := negLabel
	for _, label := range l.labels() {
		w := l.Weights[label]
		score := l.Biases[label]
		for _, f := range features {
			score += w[f]
		}
		if label == negLabel {
			score *= l.negScale()
		}
		if score > best {
			runner = best
			best, bestLabel = score, label
		} else if score > runner {
			runner = score
		}
	}
	if math.IsInf(best, -1) {
		return negLabel, 0
	}
	if math.IsInf(runner, -1) {
		runner = 0
	}
	return bestLabel, best - runner
}

func (l *learner) negScale() float64 {
	if l.NegScale == 0 {
		return 1
	}
	return l.NegScale
}

// withNegScale returns a copy of the learner with the negative class
// scaled by mult. The weight tables are shared; they are never mutated
// after training.
func (l *learner) withNegScale(mult float64) *learner {
	c := *l
	c.NegScale = mult
	return &c
}

// evaluateExamples scores the learner micro-averaged over the examples.
func (l *learner) evaluateExamples(examples []example) scoreSummary {
	tp, fp, fn := 0, 0, 0
	for _, ex := range examples {
		pred, _ := l.predict(ex.Features)
		switch {
		case pred == negLabel && ex.Label == negLabel:
		case pred == negLabel:
			fn++
		case pred == ex.Label:
			tp++
		case ex.Label == negLabel:
			fp++
		default:
			fp++
			fn++
		}
	}
	return summarize(tp, fp, fn)
}

// tuneThresholds greedily picks a per-label bias maximizing the devel
// F-score, labels in sorted order. Zero biases are not recorded.
func (l *learner) tuneThresholds(ctx context.Context, develExamples []example) {
	logger := ctxlog.FromContext(ctx)
	if l.Biases == nil {
		l.Biases = map[string]float64{}
	}
	for _, label := range l.labels() {
		if label == negLabel {
			continue
		}
		bestBias, bestF := 0.0, l.evaluateExamples(develExamples).F1
		for i := -5; i <= 5; i++ {
			bias := float64(i) / 10
			if bias == 0 {
				continue
			}
			l.Biases[label] = bias
			if f := l.evaluateExamples(develExamples).F1; f > bestF {
				bestBias, bestF = bias, f
			}
		}
		if bestBias == 0 {
			delete(l.Biases, label)
			continue
		}
		l.Biases[label] = bestBias
		logger.Info("tuned label threshold", "label", label, "bias", bestBias, "fscore", bestF)
	}
}

func (l *learner) encode() (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode classifier: %w", err)
	}
	return string(data), nil
}

func decodeLearner(s string) (*learner, error) {
	var l learner
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return nil, fmt.Errorf("decode classifier: %w", err)
	}
	if l.NegScale == 0 {
		l.NegScale = 1
	}
	return &l, nil
}

// scoreSummary is a micro-averaged precision/recall/F-score.
type scoreSummary struct {
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"fscore"`
}

func summarize(tp, fp, fn int) scoreSummary {
	s := scoreSummary{TP: tp, FP: fp, FN: fn}
	if tp+fp > 0 {
		s.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		s.Recall = float64(tp) / float64(tp+fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// gridValues reads the capacity list of a classifier grid spec and
// whether per-label threshold tuning was requested. An empty spec means
// a single uncapped point.
func gridValues(spec string) ([]int, bool, error) {
	if spec == "" {
		return []int{0}, false, nil
	}
	set, err := params.Parse(spec, nil)
	if err != nil {
		return nil, false, err
	}
	values := set.Values("c")
	if len(values) == 0 {
		return []int{0}, set.Has("threshold"), nil
	}
	out := make([]int, 0, len(values))
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, false, domain.Configf("invalid classifier capacity %q in %q", v, spec)
		}
		out = append(out, n)
	}
	return out, set.Has("threshold"), nil
}

// recallValues reads a recall-adjust multiplier list.
func recallValues(spec string) ([]float64, error) {
	if spec == "" {
		return nil, nil
	}
	var out []float64
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, domain.Configf("invalid recall multiplier %q in %q", tok, spec)
		}
		out = append(out, f)
	}
	return out, nil
}

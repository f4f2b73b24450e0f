// Package steps decides which pipeline phases run, honoring a single
// resume point and an omit set. Detectors reuse the same selector for
// their internal substeps.
package steps

import (
	"context"

	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/params"
)

// Plan is the parsed resume/omit request over an ordered phase list.
type Plan struct {
	// Resume is the phase processing starts from, or "" for the first.
	Resume string
	// Substeps holds the resume substep per phase, threaded through to
	// the phase's detector call without interpretation.
	Substeps map[string]string
	// Omit marks whole phases that never run.
	Omit map[string]bool
	// OmitSubsteps keeps substep-valued omit tokens. Phase gating ignores
	// them; they are recorded so the request round-trips.
	OmitSubsteps map[string]string

	phases []string
}

// ParsePlan reads a resume spec and an omit spec restricted to the given
// phase names. At most one phase may carry a resume mark, and a resume
// substep must be a single value.
func ParsePlan(stepSpec, omitSpec string, phases []string) (*Plan, error) {
	plan := &Plan{
		Substeps:     map[string]string{},
		Omit:         map[string]bool{},
		OmitSubsteps: map[string]string{},
		phases:       phases,
	}
	steps, err := params.Parse(stepSpec, phases)
	if err != nil {
		return nil, err
	}
	for _, phase := range steps.Keys() {
		vals := steps.Values(phase)
		if len(vals) > 1 {
			return nil, domain.Configf("step %s lists %d substeps, processing can start from one place only", phase, len(vals))
		}
		if plan.Resume != "" {
			return nil, domain.Configf("steps %s and %s both marked as the resume point, processing can start from one place only", plan.Resume, phase)
		}
		plan.Resume = phase
		if len(vals) == 1 {
			plan.Substeps[phase] = vals[0]
		}
	}
	omits, err := params.Parse(omitSpec, phases)
	if err != nil {
		return nil, err
	}
	for _, phase := range omits.Keys() {
		vals := omits.Values(phase)
		if vals == nil {
			plan.Omit[phase] = true
			continue
		}
		plan.OmitSubsteps[phase] = vals[0]
	}
	return plan, nil
}

// Selector builds the phase selector for this plan.
func (p *Plan) Selector() *Selector {
	var omit []string
	for phase, whole := range p.Omit {
		if whole {
			omit = append(omit, phase)
		}
	}
	return NewSelector(p.phases, p.Resume, omit)
}

// Selector gates an ordered list of steps on a resume point and an omit
// set. Omission beats resumption.
type Selector struct {
	order  []string
	index  map[string]int
	resume string
	omit   map[string]bool
}

// NewSelector builds a selector over the ordered step list. An empty
// resume means start from the beginning.
func NewSelector(order []string, resume string, omit []string) *Selector {
	s := &Selector{
		order:  order,
		index:  make(map[string]int, len(order)),
		resume: resume,
		omit:   map[string]bool{},
	}
	for i, step := range order {
		s.index[step] = i
	}
	for _, step := range omit {
		s.omit[step] = true
	}
	return s
}

// ShouldRun decides whether a step runs and logs the decision. Unknown
// steps never run.
func (s *Selector) ShouldRun(ctx context.Context, step string) bool {
	logger := ctxlog.FromContext(ctx)
	i, known := s.index[step]
	if !known {
		logger.Warn("unknown step", "step", step)
		return false
	}
	if s.omit[step] {
		logger.Info("skipping step", "step", step, "reason", "omitted")
		return false
	}
	if s.resume != "" {
		from, ok := s.index[s.resume]
		if ok && i < from {
			logger.Info("skipping step", "step", step, "reason", "before resume point", "resume", s.resume)
			return false
		}
	}
	logger.Info("performing step", "step", step)
	return true
}

// Package detectors holds the trainable detectors behind the pipeline
// phases. A detector turns corpus files into model artifacts and model
// artifacts into classified corpora; the registry maps the stable
// detector names to their constructors.
package detectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"textrain/internal/connection"
	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/model"
	"textrain/internal/params"
)

// ErrUnknownDetector marks a detector name missing from the registry.
var ErrUnknownDetector = errors.New("unknown detector")

// Detector trains models and classifies corpora. Implementations are
// configured once by the orchestrator and then driven one phase at a
// time.
type Detector interface {
	Name() string
	SingleStage() bool
	SetConnection(*connection.Connection)
	SetDebug(bool)
	SetEvaluation(*params.Set)
	Train(ctx context.Context, spec TrainSpec) error
	Classify(ctx context.Context, spec ClassifySpec) error
}

// TrainSpec is everything a detector needs for the TRAIN phase. Style
// and grid strings are parameter strings; the single-stage detector
// reads the examples slots, multi-stage detectors the per-stage ones.
type TrainSpec struct {
	TrainFile  string
	DevelFile  string
	DevelModel string
	TestModel  string

	Task  string
	Parse string

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

	Unmerging bool
	Modifiers bool
	FullGrid  bool

	// FromStep resumes training from a substep.
	FromStep string
	// WorkDir is the phase work directory.
	WorkDir string
}

// ClassifySpec is everything a detector needs for one classification
// phase. Output is a path prefix; Gold is optional.
type ClassifySpec struct {
	Input    string
	Model    string
	Output   string
	Gold     string
	FromStep string
	WorkDir  string
}

var registry = map[string]func() Detector{
	domain.DetectorEvent: func() Detector { return newEventDetector() },
	domain.DetectorEdge:  func() Detector { return newEdgeDetector() },
	domain.DetectorCoref: func() Detector { return newCorefDetector() },
}

// Names lists the registered detector names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs a registered detector by name.
func New(name string) (Detector, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownDetector, name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Acquire resolves a detector for a run: a non-empty name goes through
// the registry, an empty one is read from the detector key of the first
// model artifact found on disk (resumed runs). Nothing is ever
// constructed from an unregistered name.
func Acquire(ctx context.Context, name string, modelPaths ...string) (Detector, error) {
	logger := ctxlog.FromContext(ctx)
	if name == "" {
		for _, path := range modelPaths {
			if !domain.IsSet(path) {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				continue
			}
			m, err := model.Open(path, model.Read)
			if err != nil {
				return nil, err
			}
			stored, err := m.GetStr("detector")
			m.Close()
			if err != nil {
				if errors.Is(err, model.ErrNoSuchKey) {
					continue
				}
				return nil, err
			}
			logger.Info("using detector stored in model", "detector", stored, "model", path)
			name = stored
			break
		}
	}
	if name == "" {
		return nil, domain.Configf("no detector given and none recorded in a model")
	}
	return New(name)
}

// base carries the configuration every detector shares.
type base struct {
	name       string
	conn       *connection.Connection
	debug      bool
	evaluation *params.Set
}

func (b *base) Name() string { return b.name }

func (b *base) SetConnection(c *connection.Connection) { b.conn = c }

func (b *base) SetDebug(debug bool) { b.debug = debug }

func (b *base) SetEvaluation(e *params.Set) { b.evaluation = e }

// jobDir places a named scratch dir through the connection, defaulting
// to the phase work dir when no connection was set.
func (b *base) jobDir(fallback, name string) (string, error) {
	if b.conn == nil {
		c, err := connection.Parse("", b.debug)
		if err != nil {
			return "", err
		}
		b.conn = c
	}
	return b.conn.JobDir(fallback, name)
}

// convert reports whether classification outputs get the shared-task
// archive, and whether score files go with it.
func (b *base) convert() (archive, scores bool) {
	if b.evaluation == nil {
		return false, false
	}
	return b.evaluation.Has("convert"), b.evaluation.Has("scores")
}

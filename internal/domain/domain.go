package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline phases, in execution order.
const (
	PhaseTrain = "TRAIN"
	PhaseDevel = "DEVEL"
	PhaseEmpty = "EMPTY"
	PhaseTest  = "TEST"
)

// Phases returns the fixed phase order of a training run.
func Phases() []string {
	return []string{PhaseTrain, PhaseDevel, PhaseEmpty, PhaseTest}
}

// Dataset roles of the input file set.
const (
	DatasetTrain = "train"
	DatasetDevel = "devel"
	DatasetTest  = "test"
)

// Datasets returns the dataset roles in resolution order.
func Datasets() []string {
	return []string{DatasetDevel, DatasetTrain, DatasetTest}
}

// None is the sentinel that disables an input or model slot explicitly,
// as opposed to leaving it unset for task defaulting.
const None = "none"

// IsNone reports whether a slot value is the disabling sentinel.
func IsNone(v string) bool {
	return strings.EqualFold(v, None)
}

// IsSet reports whether a slot holds a usable path.
func IsSet(v string) bool {
	return v != "" && !IsNone(v)
}

// FileSet holds the train/devel/test input paths of a run. An empty value
// means unset (eligible for task defaulting), the None sentinel means
// explicitly disabled.
type FileSet struct {
	Train string `json:"train,omitempty"`
	Devel string `json:"devel,omitempty"`
	Test  string `json:"test,omitempty"`
}

// Get returns the slot value for a dataset role.
func (f *FileSet) Get(role string) string {
	switch role {
	case DatasetTrain:
		return f.Train
	case DatasetDevel:
		return f.Devel
	case DatasetTest:
		return f.Test
	}
	return ""
}

// Put sets the slot value for a dataset role.
func (f *FileSet) Put(role, v string) {
	switch role {
	case DatasetTrain:
		f.Train = v
	case DatasetDevel:
		f.Devel = v
	case DatasetTest:
		f.Test = v
	}
}

// ConfigError marks a misconfiguration detected before any pipeline phase
// runs. The CLI maps it to a distinct exit code.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Configf builds a ConfigError.
func Configf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ParseTriBool interprets a tri-state CLI value: empty means undefined
// (task default applies), otherwise a boolean literal.
func ParseTriBool(v string) (*bool, error) {
	switch strings.ToLower(v) {
	case "":
		return nil, nil
	case "true":
		b := true
		return &b, nil
	case "false":
		b := false
		return &b, nil
	}
	return nil, Configf("invalid boolean %q (use true or false, or leave unset)", v)
}

// Registered detector names.
const (
	DetectorEvent = "event"
	DetectorEdge  = "edge"
	DetectorCoref = "coref"
)

// Run statuses in the ledger.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Run is one training run recorded in the workspace ledger.
type Run struct {
	ID         string  `json:"id"`
	OutputDir  string  `json:"output_dir"`
	Task       string  `json:"task,omitempty"`
	Detector   string  `json:"detector,omitempty"`
	Connection string  `json:"connection,omitempty"`
	Status     string  `json:"status" enum:"running,finished,failed"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"started_at" format:"date-time"`
	FinishedAt *string `json:"finished_at,omitempty" format:"date-time"`
}

// Ledger event types.
const (
	EventRunStarted     = "run.started"
	EventRunFinished    = "run.finished"
	EventRunFailed      = "run.failed"
	EventPhaseStarted   = "phase.started"
	EventPhaseFinished  = "phase.finished"
	EventPhaseSkipped   = "phase.skipped"
	EventModelAnnotated = "model.annotated"
	EventInputDerived   = "input.derived"
)

// RunEvent is one ledger entry of a run.
type RunEvent struct {
	ID      int64  `json:"id"`
	RunID   string `json:"run_id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	Phase   string `json:"phase,omitempty"`
	Payload string `json:"payload_json,omitempty"`
}

package tasks

import "textrain/internal/domain"

// The recognized task identifiers. Membership is checked after stripping
// the -MINI size suffix; the dotted entries pin the sub-task variants that
// exist as corpora of their own.
var recognized = []string{
	"GE09", "GE09.1", "GE09.2",
	"GE11", "GE11.1", "GE11.2",
	"EPI11", "ID11", "BB11",
	"BI11", "BI11-FULL",
	"CO11", "REL11", "REN11",
	"DDI11", "DDI11-FULL",
}

// Recognized returns the task catalog.
func Recognized() []string {
	out := make([]string, len(recognized))
	copy(out, recognized)
	return out
}

func isRecognized(id string) bool {
	for _, r := range recognized {
		if r == id {
			return true
		}
	}
	return false
}

// detectorDefault picks the detector for a task and whether it is a
// single-stage run.
func detectorDefault(id string) (string, bool) {
	switch id {
	case "CO11":
		return domain.DetectorCoref, false
	case "REN11", "BI11", "DDI11":
		return domain.DetectorEdge, true
	}
	return domain.DetectorEvent, false
}

// evaluationDefault returns the shared-task evaluation parameter fragment.
// The full-corpus bacteria task skips the evaluator (it cannot score
// predicted entities) and the drug-drug tasks have no shared-task output
// at all.
func evaluationDefault(id string) string {
	switch id {
	case "BI11-FULL":
		return "convert:scores"
	case "REL11":
		return "convert:evaluate:scores:a2Tag=rel"
	case "DDI11", "DDI11-FULL":
		return ""
	}
	return "convert:evaluate:scores"
}

var preprocSkipNER = map[string]bool{
	"BI11": true, "BI11-FULL": true, "BB11": true,
	"DDI11": true, "DDI11-FULL": true,
}

// preprocessorDefault returns the preprocessing parameter fragment stored
// into trained models. Tasks with given entities skip NER; the rest parse
// only sentences where an entity was found.
func preprocessorDefault(id string) string {
	if preprocSkipNER[id] {
		return "intermediateFiles:omitSteps=NER,DIVIDE-SETS"
	}
	return "intermediateFiles:omitSteps=DIVIDE-SETS:PARSE.requireEntities"
}

var noUnmerging = map[string]bool{
	"CO11": true, "REL11": true, "BB11": true,
	"BI11-FULL": true, "DDI11-FULL": true,
}

var withModifiers = map[string]bool{
	"GE11": true, "EPI11": true, "ID11": true,
}

// singleStageStyles are the example style defaults of the single-stage
// tasks.
var singleStageStyles = map[string]string{
	"REN11": "trigger_features:typed:no_linear:entities:noMasking:maxFeatures:bacteria_renaming:maskTypeAsProtein=Gene",
	"BI11":  "trigger_features:typed:directed:no_linear:entities:noMasking:maxFeatures:auto_limits",
	"DDI11": "trigger_features:typed:no_linear:entities:noMasking:maxFeatures:ddi_features:ddi_mtmx:filter_shortest_path=conj_and",
}

// edgeStyleDefault returns the complete edge example style fragment for a
// task and sub-task.
func edgeStyleDefault(id string, subTask int) string {
	switch id {
	case "GE09", "GE11":
		style := "trigger_features:typed:directed:no_linear:entities:auto_limits:noMasking:maxFeatures"
		if subTask == 1 {
			style += ":genia_task1"
		}
		return style
	case "BB11", "EPI11", "ID11":
		return "trigger_features:typed:directed:no_linear:entities:auto_limits:noMasking:maxFeatures"
	case "REL11":
		return "trigger_features:typed:directed:no_linear:entities:noMasking:maxFeatures:auto_limits:rel_features"
	case "CO11", "BI11-FULL":
		return "trigger_features:typed:directed:no_linear:entities:noMasking:maxFeatures:auto_limits"
	case "DDI11-FULL":
		return "trigger_features:typed:no_linear:entities:noMasking:maxFeatures:ddi_features:filter_shortest_path=conj_and"
	}
	return "trigger_features:typed:directed:no_linear:entities:noMasking:maxFeatures"
}

// triggerStyleDefault returns the trigger example style fragment, or ""
// when the task needs none. The coreference task has no trigger style
// here; its phrase-trigger handling lives in the coref detector.
func triggerStyleDefault(id string, subTask int) string {
	switch id {
	case "GE09", "GE11":
		if subTask == 1 {
			return "genia_task1"
		}
	case "EPI11":
		return "epi_merge_negated"
	case "BB11":
		return "bb_features:build_for_nameless:wordnet"
	case "REL11":
		return "rel_features"
	case "BI11-FULL", "DDI11-FULL":
		return "build_for_nameless:names"
	}
	return ""
}

const unmergingStyleDefault = "trigger_features:typed:directed:no_linear:entities:genia_limits:noMasking:maxFeatures"

// singleStageGrids are the classifier parameter grids of the single-stage
// tasks.
var singleStageGrids = map[string]string{
	"REN11": "c=10,100,1000,2000,3000,4000,4500,5000,5500,6000,7500,10000,20000,25000,28000,50000,60000",
	"BI11":  "c=10,100,1000,2500,5000,7500,10000,20000,25000,28000,50000,60000,65000,80000,100000,150000",
	"DDI11": "c=10,100,1000,2500,4000,5000,6000,7500,10000,20000,25000,50000:threshold",
}

const triggerGrid = "c=1000,5000,10000,20000,50000,80000,100000,150000,180000,200000,250000,300000,350000,500000,1000000"

func recallGrid(id string) string {
	if id == "CO11" {
		return "0.8,0.9,0.95,1.0"
	}
	return "0.5,0.6,0.65,0.7,0.85,1.0,1.1,1.2"
}

func edgeGrid(id string) string {
	if id == "REL11" || id == "CO11" {
		return "c=10,100,1000,5000,7500,10000,20000,25000,28000,50000,60000,65000,100000,500000,1000000"
	}
	return "c=5000,7500,10000,20000,25000,27500,28000,29000,30000,35000,40000,50000,60000,65000"
}

const unmergingGrid = "c=1,10,100,500,1000,1500,2500,5000,10000,20000,50000,80000,100000"

const modifierGrid = "c=5000,10000,20000,50000,100000"

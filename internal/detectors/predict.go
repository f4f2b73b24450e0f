package detectors

import (
	"fmt"
	"strings"

	"textrain/internal/corpus"
	"textrain/internal/params"
)

// predictTriggers adds the trigger model's predictions to the corpus in
// place and returns their confidences by entity id.
func predictTriggers(c *corpus.Corpus, l *learner, style *params.Set, phrases bool) map[string]float64 {
	conf := map[string]float64{}
	for _, doc := range c.Documents {
		candidates := triggerCandidates(doc, style, phrases)
		for _, ex := range candidates {
			label, margin := l.predict(ex.Features)
			if label == negLabel {
				continue
			}
			id := fmt.Sprintf("%s.e%d", doc.ID, len(doc.Entities)+1)
			doc.Entities = append(doc.Entities, &corpus.Entity{
				ID:     id,
				Type:   label,
				Text:   ex.Text,
				Offset: ex.Ref,
			})
			conf[id] = margin
		}
	}
	return conf
}

// predictEdges adds the edge model's predicted interactions to the
// corpus in place and returns their confidences by interaction id.
func predictEdges(c *corpus.Corpus, l *learner, style *params.Set) map[string]float64 {
	conf := map[string]float64{}
	for _, doc := range c.Documents {
		candidates := edgeCandidates(doc, style)
		for _, ex := range candidates {
			label, margin := l.predict(ex.Features)
			if label == negLabel {
				continue
			}
			e1, e2, _ := strings.Cut(ex.Ref, "|")
			id := fmt.Sprintf("%s.i%d", doc.ID, len(doc.Interactions)+1)
			doc.Interactions = append(doc.Interactions, &corpus.Interaction{
				ID:   id,
				Type: label,
				E1:   e1,
				E2:   e2,
			})
			conf[id] = margin
		}
	}
	return conf
}

// pruneInteractions drops predicted interactions the unmerging model
// scores as non-events.
func pruneInteractions(c *corpus.Corpus, l *learner, style *params.Set, conf map[string]float64) {
	for _, doc := range c.Documents {
		ents := map[string]*corpus.Entity{}
		for _, e := range doc.Entities {
			ents[e.ID] = e
		}
		kept := doc.Interactions[:0]
		for _, in := range doc.Interactions {
			e1, e2 := ents[in.E1], ents[in.E2]
			if e1 == nil || e2 == nil {
				continue
			}
			ex := pairExample(doc, e1, e2, style)
			if label, _ := l.predict(ex.Features); label == negLabel {
				delete(conf, in.ID)
				continue
			}
			kept = append(kept, in)
		}
		doc.Interactions = kept
	}
}

// applyModifiers sets negation and speculation flags on the predicted
// entities.
func applyModifiers(c *corpus.Corpus, l *learner, style *params.Set) {
	for _, doc := range c.Documents {
		for _, e := range doc.Entities {
			if e.Given {
				continue
			}
			ex := modifierExample(doc, e, style)
			label, _ := l.predict(ex.Features)
			e.Negation = strings.Contains(label, "negation")
			e.Speculation = strings.Contains(label, "speculation")
		}
	}
}

// entityKey identifies a predicted entity across corpora by type and
// span; ids are classifier-local and never compared.
func entityKey(e *corpus.Entity) string {
	return e.Type + "|" + e.Offset
}

// endpointKey identifies an interaction argument: given entities by
// their stable id, predicted ones by type and span.
func endpointKey(e *corpus.Entity) string {
	if e == nil {
		return "?"
	}
	if e.Given {
		return e.ID
	}
	return e.Type + "@" + e.Offset
}

// interactionKeys renders a document's interactions as type plus
// endpoint identities.
func interactionKeys(d *corpus.Document) map[string]bool {
	ents := map[string]*corpus.Entity{}
	for _, e := range d.Entities {
		ents[e.ID] = e
	}
	keys := map[string]bool{}
	for _, in := range d.Interactions {
		keys[in.Type+"|"+endpointKey(ents[in.E1])+"|"+endpointKey(ents[in.E2])] = true
	}
	return keys
}

// evaluateCorpora scores a classified corpus against gold, matching
// entities by type and span and interactions by type and endpoints.
func evaluateCorpora(pred, gold *corpus.Corpus) (entities, interactions scoreSummary) {
	predDocs := map[string]*corpus.Document{}
	for _, d := range pred.Documents {
		predDocs[d.ID] = d
	}
	etp, efp, efn := 0, 0, 0
	itp, ifp, ifn := 0, 0, 0
	for _, gd := range gold.Documents {
		pd := predDocs[gd.ID]
		goldEnts := map[string]bool{}
		for _, e := range gd.Entities {
			if !e.Given {
				goldEnts[entityKey(e)] = true
			}
		}
		predEnts := map[string]bool{}
		if pd != nil {
			for _, e := range pd.Entities {
				if !e.Given {
					predEnts[entityKey(e)] = true
				}
			}
		}
		for k := range predEnts {
			if goldEnts[k] {
				etp++
			} else {
				efp++
			}
		}
		for k := range goldEnts {
			if !predEnts[k] {
				efn++
			}
		}
		goldInts := interactionKeys(gd)
		predInts := map[string]bool{}
		if pd != nil {
			predInts = interactionKeys(pd)
		}
		for k := range predInts {
			if goldInts[k] {
				itp++
			} else {
				ifp++
			}
		}
		for k := range goldInts {
			if !predInts[k] {
				ifn++
			}
		}
	}
	return summarize(etp, efp, efn), summarize(itp, ifp, ifn)
}

// chainScore runs trigger and edge prediction over a stripped copy of
// the gold corpus and scores the predicted interactions against gold.
// The recall sweep uses it to judge multipliers by their downstream
// effect.
func chainScore(gold *corpus.Corpus, trig, edge *learner, trigStyle, edgeStyle *params.Set, phrases bool) scoreSummary {
	stripped := corpus.StripCorpus(gold, false)
	predictTriggers(stripped, trig, trigStyle, phrases)
	predictEdges(stripped, edge, edgeStyle)
	_, interactions := evaluateCorpora(stripped, gold)
	return interactions
}

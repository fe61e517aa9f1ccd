package task

import "strings"

// Classifier maps a raw observation to an internal State. It must be total:
// every input yields one of processing, completed or failed.
type Classifier interface {
	Classify(obs *Observation) State
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(obs *Observation) State

// Classify implements Classifier.
func (f ClassifierFunc) Classify(obs *Observation) State { return f(obs) }

// Table is a declarative per-provider classifier.
//
// Lookup order: explicit HTTP status override, then any other 4xx (the
// remote rejected the query, so failed), then the status token, then
// Default. Unknown tokens therefore keep the task processing.
type Table struct {
	Tokens     map[string]State
	HTTPStatus map[int]State
	// CaseInsensitive folds tokens before lookup.
	CaseInsensitive bool
	// Default applies to tokens not in Tokens. Empty means processing.
	Default State
}

// Classify implements Classifier.
func (t Table) Classify(obs *Observation) State {
	if obs == nil {
		return t.fallback()
	}
	if s, ok := t.HTTPStatus[obs.HTTPStatus]; ok {
		return s
	}
	if obs.HTTPStatus >= 400 && obs.HTTPStatus < 500 {
		return StateFailed
	}

	token := strings.TrimSpace(obs.Token)
	if t.CaseInsensitive {
		for k, s := range t.Tokens {
			if strings.EqualFold(k, token) {
				return s
			}
		}
		return t.fallback()
	}
	if s, ok := t.Tokens[token]; ok {
		return s
	}
	return t.fallback()
}

func (t Table) fallback() State {
	switch t.Default {
	case StateCompleted, StateFailed:
		return t.Default
	default:
		return StateProcessing
	}
}

// Tokens builds a token map from per-state lists.
func Tokens(completed, failed, processing []string) map[string]State {
	m := make(map[string]State, len(completed)+len(failed)+len(processing))
	for _, s := range processing {
		m[s] = StateProcessing
	}
	for _, s := range completed {
		m[s] = StateCompleted
	}
	for _, s := range failed {
		m[s] = StateFailed
	}
	return m
}

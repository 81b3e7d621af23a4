package rules

import "vigil"

// Match is one rule hit inside a searched time range.
type Match struct {
	Camera  string `json:"camera"`
	Rule    string `json:"rule"`
	Object  int64  `json:"object"`
	StartMs int64  `json:"start_ms"`
	StopMs  int64  `json:"stop_ms"`
}

// Query is a compiled rule query. Implementations are stateful: Search
// carries incremental state forward between calls, Reset discards it.
type Query interface {
	Search(startMs, endMs int64) ([]Match, error)
	Reset()
	SetCoordSpace(w, h int)
}

// Engine compiles rule definitions into queries.
type Engine interface {
	Compile(def vigil.RuleDef) (Query, error)
}

// ResponseSink receives every analysis pass for a rule, including empty
// ones, so responses can track how far a camera's timeline has been
// examined.
type ResponseSink interface {
	Deliver(def vigil.RuleDef, upToMs int64, matches []Match) error
}

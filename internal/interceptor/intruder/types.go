// Package intruder implements attack-mode corpus generation and bounded
// concurrent dispatch of template-marker payload substitutions (C10).
package intruder

// AttackType selects how payloads are distributed across positions.
type AttackType string

const (
	AttackSniper      AttackType = "sniper"
	AttackBattering   AttackType = "battering_ram"
	AttackPitchfork   AttackType = "pitchfork"
	AttackClusterBomb AttackType = "cluster_bomb"
)

// Position marks one §name§ substitution point in a request template. Start
// and End describe the marker's byte offsets in the original template, kept
// for callers that want to render a diff view; the generator itself matches
// markers by name, not offset.
type Position struct {
	Start int
	End   int
	Name  string
}

// Options tunes dispatch behaviour.
type Options struct {
	Concurrency int
	DelayMS     int
}

// DefaultOptions mirrors the reference intruder's defaults: one request at
// a time, no pacing delay.
func DefaultOptions() Options {
	return Options{Concurrency: 1, DelayMS: 0}
}

// Config describes one attack: the marker positions, the payload set(s),
// the attack mode, and dispatch tuning.
type Config struct {
	Positions  []Position
	Payloads   []string
	AttackType AttackType
	Options    Options
}

// Result records one dispatched request's outcome.
type Result struct {
	RequestID      int
	Payload        string
	StatusCode     int
	ResponseLength int
	DurationMS     int64
}

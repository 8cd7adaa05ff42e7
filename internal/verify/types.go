package verify

import "adconverge/internal/fixture"

type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
)

// CheckResult is the outcome of testing one fixture against one node.
// Err is set when the probe itself failed (unreachable node, auth error)
// rather than the object being cleanly absent; the outcome is Fail either
// way but the report keeps the two distinguishable.
type CheckResult struct {
	Kind    fixture.Kind
	Node    string
	Outcome Outcome
	Err     string
	Seq     int
}

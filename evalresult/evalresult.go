// Package evalresult carries the wire shape of a scoring result as returned
// by challenge-supplied evaluation code and consumed by the leaderboard
// updater and the remote grader surface.
package evalresult

import (
	"encoding/json"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/maps"
)

// Result is what a scoring run reports. One entry per dataset split.
type Result struct {
	Splits []SplitEntry `json:"result"`
}

// SplitEntry holds the metric values a scoring run reported for one split.
type SplitEntry struct {
	Split             string             `json:"split"`
	ShowToParticipant bool               `json:"show_to_participant"`
	Accuracies        map[string]float64 `json:"accuracies"`
}

// rawEntry defers accuracy decoding so that a non-numeric metric value can be
// reported as its own error instead of a generic json one.
type rawEntry struct {
	Split             string                     `json:"split"`
	ShowToParticipant bool                       `json:"show_to_participant"`
	Accuracies        map[string]json.RawMessage `json:"accuracies"`
}

// ErrNonNumericMetric is returned by Parse when a metric value is not a
// number. Callers on the grader surface report it as a distinct 400 message.
type ErrNonNumericMetric struct {
	Split  string
	Metric string
}

func (e *ErrNonNumericMetric) Error() string {
	return fmt.Sprintf("metric %q for split %q is not numeric", e.Metric, e.Split)
}

// ErrResultKeyMissing is returned by Parse when the payload has no "result"
// key. Scoring code that returns anything else is malformed and the
// submission must fail rather than silently score zero splits.
type ErrResultKeyMissing struct{}

func (e *ErrResultKeyMissing) Error() string {
	return "result key missing from scorer output"
}

// Parse decodes raw scorer output.
func Parse(raw []byte) (*Result, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("malformed result json: %w", err)
	}
	if _, ok := probe["result"]; !ok {
		return nil, &ErrResultKeyMissing{}
	}

	var intermediate struct {
		Splits []rawEntry `json:"result"`
	}
	if err := json.Unmarshal(raw, &intermediate); err != nil {
		return nil, fmt.Errorf("malformed result json: %w", err)
	}

	res := &Result{}
	for _, entry := range intermediate.Splits {
		if entry.Split == "" {
			return nil, fmt.Errorf("result entry without split codename")
		}
		accuracies := make(map[string]float64, len(entry.Accuracies))
		for metric, rawVal := range entry.Accuracies {
			var val float64
			if err := json.Unmarshal(rawVal, &val); err != nil {
				return nil, &ErrNonNumericMetric{Split: entry.Split, Metric: metric}
			}
			accuracies[metric] = val
		}
		res.Splits = append(res.Splits, SplitEntry{
			Split:             entry.Split,
			ShowToParticipant: entry.ShowToParticipant,
			Accuracies:        accuracies,
		})
	}
	return res, nil
}

// ValidateMetrics checks one split entry against the leaderboard schema's
// declared labels. Every schema label must be reported, and nothing outside
// the schema may be reported: hosts rank on what the schema declares, so an
// unexpected or absent metric means the scoring code and the schema disagree.
func ValidateMetrics(labels []string, entry SplitEntry) error {
	declared := mapset.NewSet(labels...)
	reported := mapset.NewSet(maps.Keys(entry.Accuracies)...)

	if missing := declared.Difference(reported); missing.Cardinality() > 0 {
		keys := missing.ToSlice()
		sort.Strings(keys)
		return fmt.Errorf("metrics %v missing from split %s", keys, entry.Split)
	}
	if extra := reported.Difference(declared); extra.Cardinality() > 0 {
		keys := extra.ToSlice()
		sort.Strings(keys)
		return fmt.Errorf("metrics %v not declared in leaderboard schema for split %s", keys, entry.Split)
	}
	return nil
}

// ParticipantView filters a result down to what participants may see in the
// public result artifact. Host-only entries are dropped entirely.
func ParticipantView(res *Result) *Result {
	out := &Result{Splits: []SplitEntry{}}
	for _, entry := range res.Splits {
		if entry.ShowToParticipant {
			out.Splits = append(out.Splits, entry)
		}
	}
	return out
}

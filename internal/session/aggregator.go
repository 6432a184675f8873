package session

import (
	"buzzmaster-console/internal/domain"
)

// AnswerAggregator accumulates the current round's submissions and per-option
// tallies for the live bar chart. One submission per participant per round:
// a second submission from the same buzzer is dropped, never overwritten.
//
// Not safe for concurrent use; the controller serializes access.
type AnswerAggregator struct {
	submissions []domain.AnswerSubmission
	byBuzzer    map[string]int // buzzer ID -> index into submissions
	tallies     []int
}

// NewAnswerAggregator returns an empty aggregator; call Reset before a round.
func NewAnswerAggregator() *AnswerAggregator {
	agg := &AnswerAggregator{}
	agg.Reset(0)
	return agg
}

// Reset clears all recorded submissions and sizes the tallies for a question
// with optionCount options (0 for buzzer races).
func (a *AnswerAggregator) Reset(optionCount int) {
	a.submissions = a.submissions[:0]
	a.byBuzzer = make(map[string]int)
	a.tallies = make([]int, optionCount)
}

// Record appends a submission. It reports false, mutating nothing, when the
// participant already submitted this round. An option outside the tally range
// (including domain.NoOption) still counts toward completion.
func (a *AnswerAggregator) Record(sub domain.AnswerSubmission) bool {
	if _, dup := a.byBuzzer[sub.BuzzerID]; dup {
		return false
	}
	a.byBuzzer[sub.BuzzerID] = len(a.submissions)
	a.submissions = append(a.submissions, sub)
	if sub.Option >= 0 && sub.Option < len(a.tallies) {
		a.tallies[sub.Option]++
	}
	return true
}

// CompletionCount is the number of participants who have submitted.
func (a *AnswerAggregator) CompletionCount() int {
	return len(a.submissions)
}

// IsComplete reports whether every expected participant has submitted.
func (a *AnswerAggregator) IsComplete(expectedParticipants int) bool {
	return len(a.submissions) >= expectedParticipants
}

// HasAnswered reports whether the given participant submitted this round.
func (a *AnswerAggregator) HasAnswered(buzzerID string) bool {
	_, ok := a.byBuzzer[buzzerID]
	return ok
}

// SubmissionFor returns the participant's submission, if any.
func (a *AnswerAggregator) SubmissionFor(buzzerID string) (domain.AnswerSubmission, bool) {
	idx, ok := a.byBuzzer[buzzerID]
	if !ok {
		return domain.AnswerSubmission{}, false
	}
	return a.submissions[idx], true
}

// Submissions returns a copy of the round's submissions in arrival order.
func (a *AnswerAggregator) Submissions() []domain.AnswerSubmission {
	out := make([]domain.AnswerSubmission, len(a.submissions))
	copy(out, a.submissions)
	return out
}

// TallyFor is the raw count for one option index, 0 when out of range.
func (a *AnswerAggregator) TallyFor(option int) int {
	if option < 0 || option >= len(a.tallies) {
		return 0
	}
	return a.tallies[option]
}

// Tallies returns a copy of all option counts.
func (a *AnswerAggregator) Tallies() []int {
	out := make([]int, len(a.tallies))
	copy(out, a.tallies)
	return out
}

// TallyShare is the option's fraction of all submissions, 0 when none.
func (a *AnswerAggregator) TallyShare(option int) float64 {
	total := len(a.submissions)
	if total == 0 {
		return 0
	}
	return float64(a.TallyFor(option)) / float64(total)
}

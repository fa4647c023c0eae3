package questions

import (
	"sort"
	"strings"
)

// Rank returns the display order for a question set. The order is computed at read
// time and never persisted:
//
//  1. being_answered questions before everything else, regardless of votes
//  2. vote count descending
//  3. creation time ascending (older first, so fresh zero-vote questions sink)
//  4. question id ascending, so repeated sorts of unchanged input are identical
//
// The comparator is pure: inputs are copied, never mutated.
func Rank(input []Question) []Question {
	ranked := make([]Question, len(input))
	copy(ranked, input)
	sort.SliceStable(ranked, func(i, j int) bool {
		return compareQuestions(ranked[i], ranked[j]) < 0
	})
	return ranked
}

func compareQuestions(a, b Question) int {
	aLive := a.Status == StatusBeingAnswered
	bLive := b.Status == StatusBeingAnswered
	if aLive != bLive {
		if aLive {
			return -1
		}
		return 1
	}
	if a.VoteCount != b.VoteCount {
		if a.VoteCount > b.VoteCount {
			return -1
		}
		return 1
	}
	if a.CreatedAtSeconds != b.CreatedAtSeconds {
		if a.CreatedAtSeconds < b.CreatedAtSeconds {
			return -1
		}
		return 1
	}
	return strings.Compare(a.QuestionID, b.QuestionID)
}

package questions

import (
	"testing"
)

func rankedIDs(input []Question) []string {
	ranked := Rank(input)
	ids := make([]string, 0, len(ranked))
	for _, question := range ranked {
		ids = append(ids, question.QuestionID)
	}
	return ids
}

func TestRankPutsBeingAnsweredFirstRegardlessOfVotes(t *testing.T) {
	input := []Question{
		{QuestionID: "popular", Status: StatusApproved, VoteCount: 20, CreatedAtSeconds: 100},
		{QuestionID: "live", Status: StatusBeingAnswered, VoteCount: 1, CreatedAtSeconds: 200},
	}

	ids := rankedIDs(input)
	if ids[0] != "live" {
		t.Fatalf("being_answered question must rank first, got %v", ids)
	}
}

func TestRankOrdersByVotesThenAge(t *testing.T) {
	input := []Question{
		{QuestionID: "new-zero", Status: StatusApproved, VoteCount: 0, CreatedAtSeconds: 400},
		{QuestionID: "old-five", Status: StatusApproved, VoteCount: 5, CreatedAtSeconds: 100},
		{QuestionID: "new-five", Status: StatusApproved, VoteCount: 5, CreatedAtSeconds: 300},
		{QuestionID: "old-zero", Status: StatusApproved, VoteCount: 0, CreatedAtSeconds: 200},
	}

	ids := rankedIDs(input)
	want := []string{"old-five", "new-five", "old-zero", "new-zero"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", ids, want)
		}
	}
}

func TestRankTiesAmongBeingAnsweredFallThroughToVotes(t *testing.T) {
	input := []Question{
		{QuestionID: "live-low", Status: StatusBeingAnswered, VoteCount: 1, CreatedAtSeconds: 100},
		{QuestionID: "live-high", Status: StatusBeingAnswered, VoteCount: 3, CreatedAtSeconds: 100},
		{QuestionID: "waiting", Status: StatusApproved, VoteCount: 9, CreatedAtSeconds: 100},
	}

	ids := rankedIDs(input)
	want := []string{"live-high", "live-low", "waiting"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", ids, want)
		}
	}
}

func TestRankIsStableAndDeterministic(t *testing.T) {
	input := []Question{
		{QuestionID: "b", Status: StatusApproved, VoteCount: 2, CreatedAtSeconds: 100},
		{QuestionID: "a", Status: StatusApproved, VoteCount: 2, CreatedAtSeconds: 100},
		{QuestionID: "c", Status: StatusApproved, VoteCount: 2, CreatedAtSeconds: 100},
	}

	first := rankedIDs(input)
	second := rankedIDs(input)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("repeated sorts differ: %v vs %v", first, second)
		}
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("expected id tie-break order %v, got %v", want, first)
		}
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	input := []Question{
		{QuestionID: "b", Status: StatusApproved, VoteCount: 1, CreatedAtSeconds: 100},
		{QuestionID: "a", Status: StatusBeingAnswered, VoteCount: 0, CreatedAtSeconds: 200},
	}

	_ = Rank(input)
	if input[0].QuestionID != "b" || input[1].QuestionID != "a" {
		t.Fatalf("input slice was reordered")
	}
	if input[0].VoteCount != 1 || input[1].Status != StatusBeingAnswered {
		t.Fatalf("input contents were mutated")
	}
}

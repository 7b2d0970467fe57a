package usecase

import (
	"slices"
	"testing"
	"time"

	"NewsDigest/internal/domain"
)

func researcherPolicy() CurationPolicy {
	return CurationPolicy{
		Profiles: []domain.InterestProfile{{
			Name: "AI Researcher",
			Keywords: []domain.KeywordWeight{
				{Term: "LLM", Weight: 3},
				{Term: "reasoning", Weight: 2},
				{Term: "benchmark", Weight: 1},
			},
			Exclude: []string{"marketing"},
		}},
		MinScore: 3,
		MaxItems: 10,
		MaxAge:   7 * 24 * time.Hour,
	}
}

func TestCurateRanksByScore(t *testing.T) {
	t.Parallel()

	curator, err := NewCurator(researcherPolicy())
	if err != nil {
		t.Fatalf("NewCurator error: %v", err)
	}

	a := summarizedItem("A", "A new LLM release", testNow.Add(-time.Hour))
	b := summarizedItem("B", "LLM reasoning benchmark results", testNow.Add(-2*time.Hour))
	c := summarizedItem("C", "Cooking recipes", testNow.Add(-time.Hour))

	got := curator.Curate([]domain.Item{a, b, c}, testNow)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Item.Fingerprint != b.Fingerprint || got[0].Score != 6 {
		t.Fatalf("expected B first with score 6, got %s with %v", got[0].Item.Title, got[0].Score)
	}
	if got[1].Item.Fingerprint != a.Fingerprint || got[1].Score != 3 {
		t.Fatalf("expected A second with score 3, got %s with %v", got[1].Item.Title, got[1].Score)
	}
	if !slices.Equal(got[0].Matched, []string{"LLM", "reasoning", "benchmark"}) {
		t.Fatalf("unexpected matched keywords: %v", got[0].Matched)
	}
}

func TestCurateMatchesWholeWordsOnly(t *testing.T) {
	t.Parallel()

	curator, err := NewCurator(CurationPolicy{
		Profiles: []domain.InterestProfile{{
			Keywords: []domain.KeywordWeight{{Term: "AI", Weight: 1}, {Term: "large language model", Weight: 2}},
		}},
		MinScore: 1,
	})
	if err != nil {
		t.Fatalf("NewCurator error: %v", err)
	}

	cases := []struct {
		summary string
		score   float64
	}{
		{summary: "Said the chair", score: 0},
		{summary: "AI wins again, AI everywhere", score: 1},
		{summary: "New Large  Language\nModels released", score: 2},
		{summary: "ai and a large language model", score: 3},
	}
	for _, tc := range cases {
		item := summarizedItem("x", tc.summary, testNow)
		item.Title = ""
		got := curator.Curate([]domain.Item{item}, testNow)
		var score float64
		if len(got) == 1 {
			score = got[0].Score
		}
		if score != tc.score {
			t.Errorf("summary %q: expected score %v, got %v", tc.summary, tc.score, score)
		}
	}
}

func TestCurateFilters(t *testing.T) {
	t.Parallel()

	curator, err := NewCurator(researcherPolicy())
	if err != nil {
		t.Fatalf("NewCurator error: %v", err)
	}

	excluded := summarizedItem("Excluded", "LLM marketing push", testNow)
	old := summarizedItem("Old", "LLM reasoning", testNow.Add(-8*24*time.Hour))
	weak := summarizedItem("Weak", "a benchmark", testNow)

	if got := curator.Curate([]domain.Item{excluded, old, weak}, testNow); len(got) != 0 {
		t.Fatalf("expected every item filtered, got %d", len(got))
	}
}

func TestCurateTieBreakAndTruncate(t *testing.T) {
	t.Parallel()

	policy := researcherPolicy()
	policy.MaxItems = 2
	curator, err := NewCurator(policy)
	if err != nil {
		t.Fatalf("NewCurator error: %v", err)
	}

	newer := summarizedItem("Newer", "LLM", testNow.Add(-time.Hour))
	older := summarizedItem("Older", "LLM", testNow.Add(-3*time.Hour))
	twinA := summarizedItem("Twin A", "LLM", testNow.Add(-2*time.Hour))
	twinB := summarizedItem("Twin B", "LLM", testNow.Add(-2*time.Hour))

	input := []domain.Item{older, twinB, newer, twinA}
	first := curator.Curate(input, testNow)
	second := curator.Curate([]domain.Item{twinA, newer, twinB, older}, testNow)

	if len(first) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(first))
	}
	if first[0].Item.Title != "Newer" {
		t.Fatalf("expected newest first on equal score, got %s", first[0].Item.Title)
	}
	wantSecond := twinA.Fingerprint
	if twinB.Fingerprint < wantSecond {
		wantSecond = twinB.Fingerprint
	}
	if first[1].Item.Fingerprint != wantSecond {
		t.Fatalf("expected fingerprint tie-break, got %s", first[1].Item.Title)
	}
	for i := range first {
		if first[i].Item.Fingerprint != second[i].Item.Fingerprint {
			t.Fatalf("ordering depends on input order at %d", i)
		}
	}
}

func TestNewCuratorRejectsEmptyKeyword(t *testing.T) {
	t.Parallel()

	_, err := NewCurator(CurationPolicy{
		Profiles: []domain.InterestProfile{{Name: "broken", Keywords: []domain.KeywordWeight{{Term: "  ", Weight: 1}}}},
	})
	if err == nil {
		t.Fatal("expected error for empty keyword")
	}
}

package usecase

import (
	"context"
	"errors"
	"slices"
	"testing"

	"NewsDigest/internal/domain"
)

func curatedCandidate(title string) Candidate {
	item := summarizedItem(title, "LLM", testNow)
	item.Stage = domain.StageCurated
	return Candidate{Item: item, Score: 3}
}

func TestAssembleKeepsRankOrder(t *testing.T) {
	t.Parallel()

	digests := newMemoryDigests()
	assembler := NewAssembler(digests, fixedClock)
	first, second := curatedCandidate("First"), curatedCandidate("Second")

	digest, err := assembler.Assemble(context.Background(), "2025-11-08", []Candidate{second, first})
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if digest.Status != domain.DigestPending {
		t.Fatalf("expected pending digest, got %s", digest.Status)
	}
	want := []string{second.Item.Fingerprint, first.Item.Fingerprint}
	if !slices.Equal(digest.Items, want) {
		t.Fatalf("unexpected order: %v", digest.Items)
	}
	if !digest.GeneratedAt.Equal(testNow) {
		t.Fatalf("unexpected generated at %v", digest.GeneratedAt)
	}
}

func TestAssembleDuplicateRunDate(t *testing.T) {
	t.Parallel()

	digests := newMemoryDigests()
	assembler := NewAssembler(digests, fixedClock)
	ctx := context.Background()

	if _, err := assembler.Assemble(ctx, "2025-11-08", []Candidate{curatedCandidate("One")}); err != nil {
		t.Fatalf("first Assemble error: %v", err)
	}
	_, err := assembler.Assemble(ctx, "2025-11-08", []Candidate{curatedCandidate("Two")})
	var dup *domain.DuplicateDigestError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateDigestError, got %v", err)
	}

	stored, _ := digests.Get(ctx, "2025-11-08")
	if len(stored.Items) != 1 || digests.creates != 1 {
		t.Fatalf("duplicate assemble modified the store")
	}
}

func TestAssembleEmptyDigest(t *testing.T) {
	t.Parallel()

	digest, err := NewAssembler(newMemoryDigests(), fixedClock).Assemble(context.Background(), "2025-11-08", nil)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if len(digest.Items) != 0 {
		t.Fatalf("expected empty digest, got %v", digest.Items)
	}
}

func TestAssembleRejectsUncuratedItems(t *testing.T) {
	t.Parallel()

	c := curatedCandidate("Raw")
	c.Item.Stage = domain.StageSummarized

	digests := newMemoryDigests()
	if _, err := NewAssembler(digests, fixedClock).Assemble(context.Background(), "2025-11-08", []Candidate{c}); err == nil {
		t.Fatal("expected error for summarized item")
	}
	if digests.creates != 0 {
		t.Fatal("digest must not be persisted")
	}
}

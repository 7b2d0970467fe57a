package usecase

import (
	"context"
	"fmt"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Assembler turns ranked candidates into the run date's single digest.
type Assembler struct {
	digests ports.DigestStore
	clock   func() time.Time
}

// NewAssembler wires the digest store.
func NewAssembler(digests ports.DigestStore, clock func() time.Time) *Assembler {
	if clock == nil {
		clock = time.Now
	}
	return &Assembler{digests: digests, clock: clock}
}

// Assemble persists a Pending digest referencing candidates in rank order. It returns
// *domain.DuplicateDigestError when the run date already has one.
func (a *Assembler) Assemble(ctx context.Context, runDate domain.RunDate, candidates []Candidate) (domain.Digest, error) {
	fingerprints := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !c.Item.Stage.AtLeastCurated() {
			return domain.Digest{}, fmt.Errorf("assemble %s: item %s is %s, want curated", runDate, c.Item.Fingerprint, c.Item.Stage)
		}
		fingerprints = append(fingerprints, c.Item.Fingerprint)
	}

	digest := domain.Digest{
		RunDate:     runDate,
		Items:       fingerprints,
		GeneratedAt: a.clock().UTC(),
		Status:      domain.DigestPending,
	}
	if err := a.digests.Create(ctx, digest); err != nil {
		return domain.Digest{}, err
	}
	return digest, nil
}

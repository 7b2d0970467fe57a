package usecase

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"NewsDigest/internal/domain"
)

// Candidate is a curated item with its score and the keywords that matched.
type Candidate struct {
	Item    domain.Item
	Score   float64
	Matched []string
}

// CurationPolicy configures the Curator.
type CurationPolicy struct {
	Profiles []domain.InterestProfile
	MinScore float64
	MaxItems int
	MaxAge   time.Duration
}

type compiledTerm struct {
	term    string
	weight  float64
	pattern *regexp.Regexp
}

// Curator ranks summarized items against interest profiles. It never touches storage.
type Curator struct {
	terms    []compiledTerm
	exclude  []*regexp.Regexp
	minScore float64
	maxItems int
	maxAge   time.Duration
}

// NewCurator compiles the profiles' keywords.
func NewCurator(policy CurationPolicy) (*Curator, error) {
	c := &Curator{
		minScore: policy.MinScore,
		maxItems: policy.MaxItems,
		maxAge:   policy.MaxAge,
	}

	for _, profile := range policy.Profiles {
		for _, kw := range profile.Keywords {
			pattern, err := termPattern(kw.Term)
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
			}
			c.terms = append(c.terms, compiledTerm{term: strings.TrimSpace(kw.Term), weight: kw.Weight, pattern: pattern})
		}
		for _, term := range profile.Exclude {
			pattern, err := termPattern(term)
			if err != nil {
				return nil, fmt.Errorf("profile %s exclude: %w", profile.Name, err)
			}
			c.exclude = append(c.exclude, pattern)
		}
	}
	return c, nil
}

// Curate scores, filters, orders and truncates items. now anchors the age filter.
// Identical input yields identical output.
func (c *Curator) Curate(items []domain.Item, now time.Time) []Candidate {
	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		if c.maxAge > 0 && item.PublishedAt.Before(now.Add(-c.maxAge)) {
			continue
		}

		text := item.Title + "\n" + item.Summary
		if c.excluded(text) {
			continue
		}

		score, matched := c.score(text)
		if score < c.minScore {
			continue
		}
		candidates = append(candidates, Candidate{Item: item, Score: score, Matched: matched})
	}

	slices.SortFunc(candidates, func(a, b Candidate) int {
		if n := cmp.Compare(b.Score, a.Score); n != 0 {
			return n
		}
		if n := b.Item.PublishedAt.Compare(a.Item.PublishedAt); n != 0 {
			return n
		}
		return strings.Compare(a.Item.Fingerprint, b.Item.Fingerprint)
	})

	if c.maxItems > 0 && len(candidates) > c.maxItems {
		candidates = candidates[:c.maxItems]
	}
	return candidates
}

func (c *Curator) score(text string) (float64, []string) {
	var (
		total   float64
		matched []string
	)
	for _, t := range c.terms {
		if t.pattern.MatchString(text) {
			total += t.weight
			if !slices.Contains(matched, t.term) {
				matched = append(matched, t.term)
			}
		}
	}
	return total, matched
}

func (c *Curator) excluded(text string) bool {
	for _, pattern := range c.exclude {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// termPattern matches term case-insensitively on word boundaries, tolerating a plural
// suffix and any whitespace between words.
func termPattern(term string) (*regexp.Regexp, error) {
	words := strings.Fields(term)
	if len(words) == 0 {
		return nil, fmt.Errorf("empty keyword")
	}
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	expr := strings.Join(words, `\s+`)

	runes := []rune(strings.Join(strings.Fields(term), " "))
	if isWord(runes[0]) {
		expr = `\b` + expr
	}
	if isWord(runes[len(runes)-1]) {
		expr += `(?:s|es)?\b`
	}
	return regexp.Compile("(?i)" + expr)
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

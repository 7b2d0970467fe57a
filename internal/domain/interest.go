package domain

// KeywordWeight contributes Weight to an item's score when Term matches.
type KeywordWeight struct {
	Term   string
	Weight float64
}

// InterestProfile is an operator-configured set of weighted keywords.
type InterestProfile struct {
	Name     string
	Keywords []KeywordWeight
	Exclude  []string
}

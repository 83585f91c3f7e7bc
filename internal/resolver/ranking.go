package resolver

import (
	"fmt"
	"strings"

	"github.com/Epetaway/mtg-proxy-generator/internal/catalog"
)

// Ranker picks the default hit when no collector number hint applies.
// hits is never empty.
type Ranker interface {
	Name() string
	Pick(hits []catalog.CardIdentity) int
}

// FirstHit trusts the catalog's own relevance order
type FirstHit struct{}

func (FirstHit) Name() string                         { return "first" }
func (FirstHit) Pick(hits []catalog.CardIdentity) int { return 0 }

// PreferLanguage picks the first hit printed in Lang, else the first hit
type PreferLanguage struct {
	Lang string
}

func (p PreferLanguage) Name() string { return "language" }

func (p PreferLanguage) Pick(hits []catalog.CardIdentity) int {
	for i, h := range hits {
		if strings.EqualFold(h.Lang, p.Lang) {
			return i
		}
	}
	return 0
}

// RankerFor maps a configured ranking name to a Ranker
func RankerFor(name, lang string) (Ranker, error) {
	switch strings.ToLower(name) {
	case "", "first":
		return FirstHit{}, nil
	case "language":
		if lang == "" {
			lang = "en"
		}
		return PreferLanguage{Lang: lang}, nil
	default:
		return nil, fmt.Errorf("unknown ranking %q", name)
	}
}

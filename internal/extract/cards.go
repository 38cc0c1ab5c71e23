package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/paulhankin/poker"
)

var cardPattern = regexp.MustCompile(`^(?:10|[2-9TJQKA])[cdhs]$`)

const (
	rankOrder = "A23456789TJQK"
	suitOrder = "cdhs"
)

// normalizeCard folds "10h" into "Th".
func normalizeCard(c string) string {
	if strings.HasPrefix(c, "10") {
		return "T" + c[2:]
	}
	return c
}

// toPokerCard converts a normalized two-character card.
func toPokerCard(c string) (poker.Card, error) {
	var zero poker.Card
	if len(c) != 2 {
		return zero, fmt.Errorf("malformed card %q", c)
	}
	r := strings.IndexByte(rankOrder, c[0])
	s := strings.IndexByte(suitOrder, c[1])
	if r < 0 || s < 0 {
		return zero, fmt.Errorf("malformed card %q", c)
	}
	return poker.MakeCard(poker.Suit(s), poker.Rank(r+1))
}

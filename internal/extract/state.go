// Package extract turns the JSON object produced by the in-page table script
// into a validated TableState.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
	"github.com/paulhankin/poker"
)

// Street is the betting round implied by the number of board cards.
type Street string

const (
	StreetPreflop Street = "preflop"
	StreetFlop    Street = "flop"
	StreetTurn    Street = "turn"
	StreetRiver   Street = "river"
	StreetUnknown Street = "unknown"
)

// StreetFromBoard maps a board-card count onto a street.
func StreetFromBoard(n int) Street {
	switch n {
	case 0:
		return StreetPreflop
	case 3:
		return StreetFlop
	case 4:
		return StreetTurn
	case 5:
		return StreetRiver
	default:
		return StreetUnknown
	}
}

// Player is one occupied seat. Stats the page does not show are nil.
type Player struct {
	Name     string   `json:"name"`
	Stack    float64  `json:"stack"`
	Bet      float64  `json:"bet"`
	VPIP     *float64 `json:"vpip"`
	AF       *float64 `json:"af"`
	TimeBank *float64 `json:"time_bank"`
	IsDealer bool     `json:"is_dealer"`
	IsTurn   bool     `json:"is_turn"`
	Status   string   `json:"status"`
}

// TableState is one snapshot of the table. It is built fresh by Parse and
// never modified afterwards.
type TableState struct {
	PotSize          float64        `json:"pot_size"`
	BoardCards       []string       `json:"board_cards"`
	Players          map[int]Player `json:"players"`
	HeroCards        []string       `json:"hero_cards"`
	DealerSeat       *int           `json:"dealer_seat"`
	ActiveTurnSeat   *int           `json:"active_turn_seat"`
	SmallBlind       float64        `json:"small_blind"`
	BigBlind         float64        `json:"big_blind"`
	Ante             *float64       `json:"ante"`
	TournamentName   string         `json:"tournament_name"`
	Stage            Street         `json:"stage"`
	ExtractionTimeMS float64        `json:"extraction_time_ms"`
}

// Digest is a SHA-256 over the canonical JSON of the state with the
// extraction latency zeroed, so two reads of an unchanged table agree.
func (s *TableState) Digest() (string, error) {
	c := *s
	c.ExtractionTimeMS = 0
	raw, err := json.Marshal(&c)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HeroHand describes the hero's best five-card hand once the river is out.
func (s *TableState) HeroHand() (string, bool) {
	cards, ok := s.sevenCards()
	if !ok {
		return "", false
	}
	desc, err := poker.Describe(cards[:])
	if err != nil {
		return "", false
	}
	return desc, true
}

// HeroStrength is the evaluator score of the hero's hand; higher is better.
func (s *TableState) HeroStrength() (int16, bool) {
	cards, ok := s.sevenCards()
	if !ok {
		return 0, false
	}
	return poker.Eval7(&cards), true
}

func (s *TableState) sevenCards() ([7]poker.Card, bool) {
	var out [7]poker.Card
	if len(s.BoardCards) != 5 || len(s.HeroCards) != 2 {
		return out, false
	}
	for i, c := range append(append([]string{}, s.BoardCards...), s.HeroCards...) {
		pc, err := toPokerCard(c)
		if err != nil {
			return out, false
		}
		out[i] = pc
	}
	return out, true
}

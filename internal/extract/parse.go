package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

// MaxSeats is the largest table the parser accepts.
const MaxSeats = 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("card", func(fl validator.FieldLevel) bool {
		return cardPattern.MatchString(fl.Field().String())
	})
	return v
}

// payload mirrors the object returned by Script. Pointers mark values that
// must be present, even when empty; nullable ones use omitempty.
type payload struct {
	PotSize        *float64               `json:"pot_size" validate:"required,gte=0"`
	BoardCards     []string               `json:"board_cards" validate:"required,max=5,dive,card"`
	Players        map[string]seatPayload `json:"players" validate:"required,max=10,dive"`
	HeroCards      []string               `json:"hero_cards" validate:"required,max=2,dive,card"`
	DealerSeat     *int                   `json:"dealer_seat" validate:"omitempty,min=1,max=10"`
	ActiveTurnSeat *int                   `json:"active_turn_seat" validate:"omitempty,min=1,max=10"`
	SmallBlind     *float64               `json:"small_blind" validate:"required,gte=0"`
	BigBlind       *float64               `json:"big_blind" validate:"required,gte=0"`
	Ante           *float64               `json:"ante" validate:"omitempty,gte=0"`
	TournamentName *string                `json:"tournament_name" validate:"required,max=200"`
}

type seatPayload struct {
	Name     *string  `json:"name" validate:"required,max=64"`
	Stack    *float64 `json:"stack" validate:"required,gte=0"`
	Bet      *float64 `json:"bet" validate:"required,gte=0"`
	VPIP     *float64 `json:"vpip" validate:"omitempty,gte=0,lte=100"`
	AF       *float64 `json:"af" validate:"omitempty,gte=0"`
	TimeBank *float64 `json:"time_bank" validate:"omitempty,gte=0"`
	IsDealer *bool    `json:"is_dealer" validate:"required"`
	IsTurn   *bool    `json:"is_turn" validate:"required"`
	Status   string   `json:"status" validate:"required,oneof=active folded all_in sitting_out empty"`
}

// Parse decodes and validates one script result. Anything unexpected
// (unknown or mistyped fields, impossible cards, out-of-range seats) is
// rejected with an INVALID_PAYLOAD error; the page is not trusted.
func Parse(raw []byte, latency time.Duration) (*TableState, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, apperr.New(apperr.CodeInvalidPayload, "empty table payload")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidPayload, "decode table payload")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, apperr.New(apperr.CodeInvalidPayload, "trailing data after table payload")
	}
	if err := validate.Struct(&p); err != nil {
		return nil, apperr.Wrap(describeValidation(err), apperr.CodeInvalidPayload, "invalid table payload")
	}

	board := normalizeAll(p.BoardCards)
	hero := normalizeAll(p.HeroCards)
	stage := StreetFromBoard(len(board))
	if stage == StreetUnknown {
		return nil, apperr.Newf(apperr.CodeInvalidPayload, "impossible board of %d cards", len(board))
	}
	if err := checkCards(board, hero); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidPayload, "invalid cards")
	}

	players := make(map[int]Player, len(p.Players))
	for key, s := range p.Players {
		seat, err := strconv.Atoi(key)
		if err != nil || seat < 1 || seat > MaxSeats {
			return nil, apperr.Newf(apperr.CodeInvalidPayload, "invalid seat %q", key)
		}
		players[seat] = Player{
			Name:     strings.TrimSpace(*s.Name),
			Stack:    *s.Stack,
			Bet:      *s.Bet,
			VPIP:     s.VPIP,
			AF:       s.AF,
			TimeBank: s.TimeBank,
			IsDealer: *s.IsDealer,
			IsTurn:   *s.IsTurn,
			Status:   s.Status,
		}
	}

	return &TableState{
		PotSize:          *p.PotSize,
		BoardCards:       board,
		Players:          players,
		HeroCards:        hero,
		DealerSeat:       p.DealerSeat,
		ActiveTurnSeat:   p.ActiveTurnSeat,
		SmallBlind:       *p.SmallBlind,
		BigBlind:         *p.BigBlind,
		Ante:             p.Ante,
		TournamentName:   strings.TrimSpace(*p.TournamentName),
		Stage:            stage,
		ExtractionTimeMS: float64(latency.Microseconds()) / 1000,
	}, nil
}

func normalizeAll(cards []string) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = normalizeCard(c)
	}
	return out
}

// checkCards rejects unknown cards and any card seen twice across board and
// hero.
func checkCards(board, hero []string) error {
	seen := make(map[string]bool, len(board)+len(hero))
	for _, c := range append(append([]string{}, board...), hero...) {
		if _, err := toPokerCard(c); err != nil {
			return err
		}
		if seen[c] {
			return fmt.Errorf("duplicate card %s", c)
		}
		seen[c] = true
	}
	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}

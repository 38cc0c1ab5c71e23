package main

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/GriffinCanCode/tablewatch/internal/baseline"
	"github.com/GriffinCanCode/tablewatch/internal/detector"
	"github.com/GriffinCanCode/tablewatch/internal/extract"
)

var suitSymbols = map[byte]string{'c': "♣", 'd': "♦", 'h': "♥", 's': "♠"}

// prettyCard renders "Ah" as a red "A♥".
func prettyCard(c string) string {
	if len(c) < 2 {
		return c
	}
	rank, suit := c[:len(c)-1], c[len(c)-1]
	sym, ok := suitSymbols[suit]
	if !ok {
		return c
	}
	if suit == 'd' || suit == 'h' {
		return pterm.Red(rank + sym)
	}
	return pterm.Gray(rank + sym)
}

func prettyCards(cards []string) string {
	if len(cards) == 0 {
		return "-"
	}
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = prettyCard(c)
	}
	return strings.Join(out, " ")
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func optional(v *float64, digits int) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', digits, 64)
}

// renderTable draws the board summary box followed by one row per seat.
func renderTable(s *extract.TableState) (string, error) {
	var info strings.Builder
	if s.TournamentName != "" {
		info.WriteString(pterm.Sprintfln("Tournament: %s", s.TournamentName))
	}
	info.WriteString(pterm.Sprintfln("Street: %s   Pot: %s   Blinds: %s/%s", s.Stage, money(s.PotSize), money(s.SmallBlind), money(s.BigBlind)))
	if s.Ante != nil {
		info.WriteString(pterm.Sprintfln("Ante: %s", money(*s.Ante)))
	}
	info.WriteString(pterm.Sprintfln("Board: %s", prettyCards(s.BoardCards)))
	info.WriteString(pterm.Sprintf("Hero:  %s", prettyCards(s.HeroCards)))
	if hand, ok := s.HeroHand(); ok {
		info.WriteString(pterm.Sprintf("   (%s)", pterm.LightCyan(hand)))
	}

	box := pterm.DefaultBox.WithHorizontalPadding(2).
		WithTitle(pterm.LightYellow("|TABLE|")).WithTitleTopCenter().
		Sprint(info.String())

	seats := make([]int, 0, len(s.Players))
	for seat := range s.Players {
		seats = append(seats, seat)
	}
	sort.Ints(seats)

	data := pterm.TableData{{"Seat", "Player", "Stack", "Bet", "VPIP", "AF", "Status", ""}}
	for _, seat := range seats {
		p := s.Players[seat]
		var marks []string
		if p.IsDealer {
			marks = append(marks, "D")
		}
		if p.IsTurn {
			marks = append(marks, pterm.LightGreen("to act"))
		}
		data = append(data, []string{
			strconv.Itoa(seat),
			p.Name,
			money(p.Stack),
			money(p.Bet),
			optional(p.VPIP, 0),
			optional(p.AF, 1),
			p.Status,
			strings.Join(marks, " "),
		})
	}
	rows, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", err
	}

	footer := pterm.Sprintfln("Extracted in %.1f ms", s.ExtractionTimeMS)
	return box + "\n" + rows + "\n" + footer, nil
}

func levelStyle(l detector.AlertLevel) string {
	switch l {
	case detector.LevelCritical:
		return pterm.Red(string(l))
	case detector.LevelWarning:
		return pterm.Yellow(string(l))
	default:
		return pterm.Green(string(l))
	}
}

// renderComparison prints the verdict then the per-region scores.
func renderComparison(r *detector.ComparisonResult, level detector.AlertLevel) (string, error) {
	verdict := pterm.Green("MATCH")
	if !r.IsMatch {
		verdict = pterm.Red("DRIFT")
	}

	var info strings.Builder
	info.WriteString(pterm.Sprintfln("Site: %s   Theme: %s   Resolution: %s", r.Site, r.Theme, r.Resolution))
	info.WriteString(pterm.Sprintfln("Verdict: %s   Level: %s   Score: %.3f", verdict, levelStyle(level), r.MatchScore))
	best := r.BestBaseline
	if best == "" {
		best = "none"
	}
	info.WriteString(pterm.Sprintfln("Best baseline: %s (%d evaluated)", best, r.EvaluatedBaselines))
	info.WriteString(pterm.Sprintf("Hash distances: average=%d difference=%d perceptual=%d",
		r.HashDistances.Average, r.HashDistances.Difference, r.HashDistances.Perceptual))

	box := pterm.DefaultBox.WithHorizontalPadding(2).
		WithTitle(pterm.LightYellow("|UI CHECK|")).WithTitleTopCenter().
		Sprint(info.String())

	if len(r.RegionScores) == 0 {
		return box + "\n", nil
	}

	data := pterm.TableData{{"Region", "Score", "Threshold", "Critical", "Result"}}
	for _, rs := range r.RegionScores {
		result := pterm.Green("pass")
		if !rs.Passed() {
			result = pterm.Red("fail")
		}
		critical := ""
		if rs.Critical {
			critical = "yes"
		}
		data = append(data, []string{
			rs.Name,
			strconv.FormatFloat(rs.Score, 'f', 3, 64),
			strconv.FormatFloat(rs.Threshold, 'f', 2, 64),
			critical,
			result,
		})
	}
	rows, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", err
	}
	return box + "\n" + rows + "\n", nil
}

func renderBaselines(list []baseline.Baseline) (string, error) {
	if len(list) == 0 {
		return pterm.Sprintln("No baselines stored."), nil
	}
	data := pterm.TableData{{"ID", "Site", "Resolution", "Theme", "Created"}}
	for _, b := range list {
		data = append(data, []string{b.ID, b.Site, b.Resolution, b.Theme, b.CreatedAt.Format(time.DateTime)})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", err
	}
	return out + "\n", nil
}

package service

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/llm-council/llm-council/gateway/internal/domain/entity"
)

// Ranking extraction treats the model's free-form text as a noisy oracle:
// two cascaded scans with deterministic tie-breaking by appearance order.
// No natural-language interpretation is attempted.

var (
	numberedLabelRe = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	labelRe         = regexp.MustCompile(`Response [A-Z]`)
)

// labelFor returns the anonymization token for the i-th Stage 1 success:
// "Response A", "Response B", ...
func labelFor(i int) string {
	return fmt.Sprintf("Response %c", rune('A'+i))
}

// makeLabels assigns labels in Stage 1 iteration order and returns the
// label list together with the label-to-model bijection.
func makeLabels(replies []entity.ModelReply) ([]string, map[string]string) {
	labels := make([]string, len(replies))
	labelToModel := make(map[string]string, len(replies))
	for i, reply := range replies {
		labels[i] = labelFor(i)
		labelToModel[labels[i]] = reply.Model
	}
	return labels, labelToModel
}

// ParseRanking extracts the ranked label list from a Stage 2 reply.
//
// If the "FINAL RANKING:" sentinel appears, the suffix is scanned for
// numbered entries ("1. Response A"); failing that, for bare labels. Without
// the sentinel the whole text is scanned for labels in appearance order.
// The result may repeat labels or include unknown ones; aggregation filters
// against the label bijection.
func ParseRanking(text string) []string {
	if idx := strings.Index(text, rankingSentinel); idx >= 0 {
		section := text[idx+len(rankingSentinel):]
		if numbered := numberedLabelRe.FindAllString(section, -1); len(numbered) > 0 {
			parsed := make([]string, len(numbered))
			for i, m := range numbered {
				parsed[i] = labelRe.FindString(m)
			}
			return parsed
		}
		if matches := labelRe.FindAllString(section, -1); matches != nil {
			return matches
		}
	}
	return labelRe.FindAllString(text, -1)
}

// FormatRanking renders labels as the structured list Stage 2 responders are
// asked to produce. ParseRanking(FormatRanking(labels)) == labels.
func FormatRanking(labels []string) string {
	var b strings.Builder
	b.WriteString(rankingSentinel)
	for i, label := range labels {
		fmt.Fprintf(&b, "\n%d. %s", i+1, label)
	}
	return b.String()
}

// CalculateAggregateRankings computes per-model consensus positions across
// all parsed rankings: the mean 1-based position of the model's label, over
// however many rankings mentioned it. Labels outside the bijection are
// ignored. The result is sorted ascending by average rank; ties keep
// insertion order (stable sort). Models never mentioned are omitted.
func CalculateAggregateRankings(rankings []entity.Ranking, labelToModel map[string]string) []entity.AggregateRanking {
	positions := make(map[string][]int)
	var order []string

	for _, ranking := range rankings {
		for pos, label := range ranking.Parsed {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			if _, seen := positions[model]; !seen {
				order = append(order, model)
			}
			positions[model] = append(positions[model], pos+1)
		}
	}

	aggregate := make([]entity.AggregateRanking, 0, len(order))
	for _, model := range order {
		pts := positions[model]
		sum := 0
		for _, p := range pts {
			sum += p
		}
		avg := float64(sum) / float64(len(pts))
		aggregate = append(aggregate, entity.AggregateRanking{
			Model:         model,
			AverageRank:   math.Round(avg*100) / 100,
			RankingsCount: len(pts),
		})
	}

	sort.SliceStable(aggregate, func(i, j int) bool {
		return aggregate[i].AverageRank < aggregate[j].AverageRank
	})

	return aggregate
}

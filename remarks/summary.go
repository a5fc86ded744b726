package remarks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/theoremus-urban-solutions/departures/model"
)

// MaxDisruptions is the number of disruption-level remarks a journey may carry
// before it is excluded.
const MaxDisruptions = 2

const maxExamples = 3

// Summary aggregates the classified remarks of one journey.
type Summary struct {
	Total      int
	Highest    Severity
	BySeverity map[Severity]int
	ByCategory map[Category]int
	examples   map[Category][]string
}

// Summarize classifies every remark and aggregates the result.
func Summarize(rs []model.Remark) Summary {
	s := Summary{
		BySeverity: make(map[Severity]int),
		ByCategory: make(map[Category]int),
		examples:   make(map[Category][]string),
	}
	for _, r := range rs {
		s.add(r, Classify(r))
	}
	return s
}

func (s *Summary) add(r model.Remark, c Classification) {
	s.Total++
	s.BySeverity[c.Severity]++
	s.ByCategory[c.Category]++
	if c.Severity > s.Highest {
		s.Highest = c.Severity
	}
	if len(s.examples[c.Category]) < maxExamples {
		text := r.Summary
		if text == "" {
			text = r.Text
		}
		if text == "" {
			text = r.Code
		}
		s.examples[c.Category] = append(s.examples[c.Category], text)
	}
}

// HasCritical reports whether any remark is critical.
func (s Summary) HasCritical() bool { return s.BySeverity[SeverityCritical] > 0 }

// DisruptionCount is the number of disruption-level remarks.
func (s Summary) DisruptionCount() int { return s.BySeverity[SeverityDisruption] }

// Excludes reports whether a journey with this summary should be dropped.
func (s Summary) Excludes() bool {
	return s.HasCritical() || s.DisruptionCount() > MaxDisruptions
}

// Messages renders one line per category, most frequent first. Equal counts
// are ordered by category name.
func (s Summary) Messages() []string {
	cats := make([]Category, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if s.ByCategory[cats[i]] != s.ByCategory[cats[j]] {
			return s.ByCategory[cats[i]] > s.ByCategory[cats[j]]
		}
		return cats[i] < cats[j]
	})
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, fmt.Sprintf("%s (%d): %s", c, s.ByCategory[c], strings.Join(s.examples[c], "; ")))
	}
	return out
}

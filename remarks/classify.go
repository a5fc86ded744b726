package remarks

import (
	"strings"

	"github.com/theoremus-urban-solutions/departures/model"
)

// Category groups remarks by subject.
type Category string

const (
	CategorySchedule      Category = "schedule"
	CategoryPlatform      Category = "platform"
	CategoryCancellation  Category = "cancellation"
	CategoryDelay         Category = "delay"
	CategoryReplacement   Category = "replacement"
	CategoryConstruction  Category = "construction"
	CategoryStrike        Category = "strike"
	CategoryWeather       Category = "weather"
	CategoryTechnical     Category = "technical"
	CategoryCapacity      Category = "capacity"
	CategoryAccessibility Category = "accessibility"
	CategoryGeneral       Category = "general"
	CategoryDisruption    Category = "disruption"
)

// Severity is ordered: a larger value is worse.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityDisruption
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityDisruption:
		return "disruption"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Classification is the result of Classify.
type Classification struct {
	Category Category
	Severity Severity
}

type keywordRule struct {
	keywords []string
	category Category
	severity Severity
}

// Evaluated in order; the first matching rule wins.
var keywordRules = []keywordRule{
	{[]string{"cancel", "ausfall", "fällt aus", "faellt aus", "trip not operating"}, CategoryCancellation, SeverityCritical},
	{[]string{"strike", "streik", "industrial action"}, CategoryStrike, SeverityDisruption},
	{[]string{"replacement", "ersatzverkehr", "sev ", "substitute bus"}, CategoryReplacement, SeverityDisruption},
	{[]string{"disruption", "störung", "stoerung", "suspended", "interrupted", "no service"}, CategoryDisruption, SeverityDisruption},
	{[]string{"construction", "bauarbeiten", "engineering work", "maintenance"}, CategoryConstruction, SeverityWarning},
	{[]string{"delay", "verspätung", "verspaetung", "running late"}, CategoryDelay, SeverityWarning},
	{[]string{"platform", "gleis", "track change", "changed track"}, CategoryPlatform, SeverityWarning},
	{[]string{"weather", "storm", "snow", "flood", "unwetter", "frost"}, CategoryWeather, SeverityWarning},
	{[]string{"technical", "signal", "failure", "defect", "repair"}, CategoryTechnical, SeverityWarning},
	{[]string{"crowded", "capacity", "occupancy", "auslastung", "overcrowd"}, CategoryCapacity, SeverityInfo},
	{[]string{"wheelchair", "elevator", "lift", "accessib", "escalator", "barrier"}, CategoryAccessibility, SeverityInfo},
	{[]string{"timetable", "schedule", "additional stop", "fahrplan"}, CategorySchedule, SeverityInfo},
}

// Classify maps a remark onto a category and severity. GTFS-RT effect and
// cause enums take precedence over text matching.
func Classify(r model.Remark) Classification {
	if r.Effect != "" || r.Cause != "" {
		return classifyAlert(r)
	}
	hay := strings.ToLower(strings.Join([]string{r.Code, r.Summary, r.Text}, " "))
	c := Classification{Category: CategoryGeneral, Severity: SeverityInfo}
	for _, rule := range keywordRules {
		if containsAny(hay, rule.keywords) {
			c = Classification{Category: rule.category, Severity: rule.severity}
			break
		}
	}
	if strings.EqualFold(r.Type, "warning") && c.Severity < SeverityWarning {
		c.Severity = SeverityWarning
	}
	return c
}

func classifyAlert(r model.Remark) Classification {
	c := effectClassification(r.Effect)
	if c.Category == CategoryGeneral || c.Category == CategoryDisruption {
		if cat, ok := causeCategory(r.Cause); ok {
			c.Category = cat
		}
	}
	switch r.Severity {
	case "SEVERE":
		c.Severity = max(c.Severity, SeverityDisruption)
	case "WARNING":
		c.Severity = max(c.Severity, SeverityWarning)
	}
	return c
}

func effectClassification(effect string) Classification {
	switch effect {
	case "NO_SERVICE":
		return Classification{CategoryCancellation, SeverityCritical}
	case "REDUCED_SERVICE":
		return Classification{CategoryDisruption, SeverityDisruption}
	case "SIGNIFICANT_DELAYS":
		return Classification{CategoryDelay, SeverityDisruption}
	case "DETOUR":
		return Classification{CategoryReplacement, SeverityWarning}
	case "MODIFIED_SERVICE":
		return Classification{CategorySchedule, SeverityWarning}
	case "STOP_MOVED":
		return Classification{CategoryPlatform, SeverityWarning}
	case "ACCESSIBILITY_ISSUE":
		return Classification{CategoryAccessibility, SeverityInfo}
	case "ADDITIONAL_SERVICE":
		return Classification{CategorySchedule, SeverityInfo}
	default:
		return Classification{CategoryGeneral, SeverityInfo}
	}
}

func causeCategory(cause string) (Category, bool) {
	switch cause {
	case "STRIKE":
		return CategoryStrike, true
	case "WEATHER":
		return CategoryWeather, true
	case "CONSTRUCTION", "MAINTENANCE":
		return CategoryConstruction, true
	case "TECHNICAL_PROBLEM", "EQUIPMENT_FAILURE":
		return CategoryTechnical, true
	case "ACCIDENT", "POLICE_ACTIVITY", "MEDICAL_EMERGENCY", "DEMONSTRATION":
		return CategoryDisruption, true
	}
	return "", false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

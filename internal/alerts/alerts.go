package alerts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"leakwatch/internal/models"
)

// Subject is the mail subject of every leak alert.
const Subject = "Leak alert"

// alertNamespace seeds the name-based alert IDs.
var alertNamespace = uuid.MustParse("6f1c2a7e-52b4-4c0e-9d3a-0b8f4e1d7a25")

// Rule defines a simple threshold-based alert rule.
type Rule struct {
	Name      string
	Threshold float64
}

// Breached reports whether value strictly exceeds the rule threshold.
func (r Rule) Breached(value float64) bool {
	return value > r.Threshold
}

// Rules returns the thresholds as rules ordered by metric name.
func Rules(cfg models.ThresholdConfig) []Rule {
	rules := make([]Rule, 0, len(cfg))
	for name, t := range cfg {
		rules = append(rules, Rule{Name: name, Threshold: t})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// Evaluate compares a snapshot against the thresholds and returns one alert
// per breached metric, in lexical order of metric name. Metrics missing on
// either side are ignored. Evaluate performs no I/O and does not read the
// clock: identical inputs always yield identical alerts.
func Evaluate(snap models.Snapshot, cfg models.ThresholdConfig) []models.Alert {
	var out []models.Alert
	for _, rule := range Rules(cfg) {
		value, ok := snap.Value(rule.Name)
		if !ok || !rule.Breached(value) {
			continue
		}
		out = append(out, newAlert(rule, value, snap.Timestamp()))
	}
	return out
}

func newAlert(rule Rule, observed float64, at time.Time) models.Alert {
	return models.Alert{
		ID:        alertID(rule.Name, at).String(),
		Metric:    rule.Name,
		Observed:  observed,
		Threshold: rule.Threshold,
		Subject:   Subject,
		Body:      Body(rule.Name, observed, rule.Threshold),
		CreatedAt: at,
	}
}

func alertID(metric string, at time.Time) uuid.UUID {
	return uuid.NewSHA1(alertNamespace, []byte(metric+"|"+at.UTC().Format(time.RFC3339Nano)))
}

// Body renders the plain-text message for a breach.
func Body(metric string, observed, threshold float64) string {
	return fmt.Sprintf("Leak detected! %s abnormal: %g (threshold %g)", capitalize(metric), observed, threshold)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

package evallog

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// Metric is one parsed line of a COCO evaluation report
type Metric struct {
	Name    string
	Kind    string // "AP" or "AR"
	IoU     string
	Area    string
	MaxDets int
	Value   float64
}

var metricPattern = regexp.MustCompile(
	`\((AP|AR)\)\s*@\[\s*IoU=([0-9.:]+)\s*\|\s*area=\s*(\w+)\s*\|\s*maxDets=\s*(\d+)\s*\]\s*=\s*(-?[0-9.]+)`)

var areaSuffix = map[string]string{
	"small":  "s",
	"medium": "m",
	"large":  "l",
}

// Metrics parses every line of the report into a named metric
func (r *Report) Metrics() ([]Metric, error) {
	metrics := make([]Metric, 0, len(r.Lines))
	for _, line := range r.Lines {
		m, err := ParseMetric(line)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

// ParseMetric parses a line such as
//
//	Average Precision  (AP) @[ IoU=0.50:0.95 | area=   all | maxDets=100 ] = 0.512
func ParseMetric(line string) (Metric, error) {
	match := metricPattern.FindStringSubmatch(line)
	if match == nil {
		return Metric{}, errors.Errorf("not a metric line: %q", line)
	}

	maxDets, err := strconv.Atoi(match[4])
	if err != nil {
		return Metric{}, errors.Wrapf(err, "bad maxDets in %q", line)
	}
	value, err := strconv.ParseFloat(match[5], 64)
	if err != nil {
		return Metric{}, errors.Wrapf(err, "bad value in %q", line)
	}

	m := Metric{
		Kind:    match[1],
		IoU:     match[2],
		Area:    match[3],
		MaxDets: maxDets,
		Value:   value,
	}
	m.Name = metricName(m)
	return m, nil
}

// metricName returns the conventional short name, e.g. AP50 or ARs
func metricName(m Metric) string {
	if suffix, ok := areaSuffix[m.Area]; ok {
		return m.Kind + suffix
	}
	if m.Area == "all" {
		switch {
		case m.Kind == "AP" && m.IoU == "0.50:0.95":
			return "AP"
		case m.Kind == "AP" && m.IoU == "0.50":
			return "AP50"
		case m.Kind == "AP" && m.IoU == "0.75":
			return "AP75"
		case m.Kind == "AR" && m.IoU == "0.50:0.95":
			return fmt.Sprintf("AR%d", m.MaxDets)
		}
	}
	return fmt.Sprintf("%s@IoU=%s,area=%s,maxDets=%d", m.Kind, m.IoU, m.Area, m.MaxDets)
}

// Package evallog extracts COCO evaluation figures from training logs.
//
// A training log may contain many evaluation reports. Each report starts with
// a marker line such as "IoU metric: bbox" followed by the twelve Average
// Precision / Average Recall lines printed by the COCO evaluator. Only the
// last report is of interest.
package evallog

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// DefaultIoUType selects the box evaluation report
const DefaultIoUType = "bbox"

// valueWidth is the number of trailing characters holding a metric value
const valueWidth = 5

// Marker returns the line that opens a report of the given IoU type
func Marker(iouType string) string {
	return "IoU metric: " + iouType
}

// Report holds the metric lines of the last evaluation report in a log
type Report struct {
	Lines []string
}

// Values returns the last five characters of every metric line
func (r *Report) Values() []string {
	values := make([]string, len(r.Lines))
	for i, line := range r.Lines {
		values[i] = lastRunes(line, valueWidth)
	}
	return values
}

// Summary joins the values with commas
func (r *Report) Summary() string {
	return strings.Join(r.Values(), ",")
}

// ReadLines reads r fully and returns its lines with surrounding
// whitespace removed
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			lines = append(lines, strings.TrimSpace(line))
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read log")
		}
	}
}

// Extract locates the last line equal to marker and keeps the Average
// Precision and Average Recall lines that follow it. Without a marker the
// whole log is searched.
func Extract(lines []string, marker string) *Report {
	window := lines[lastIndex(lines, marker):]

	report := &Report{}
	for _, line := range window {
		if strings.Contains(line, "Average Precision") || strings.Contains(line, "Average Recall") {
			report.Lines = append(report.Lines, line)
		}
	}
	return report
}

// ExtractFile reads the log at path and extracts its last report
func ExtractFile(path, marker string) (*Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log %s", path)
	}
	defer file.Close()

	lines, err := ReadLines(file)
	if err != nil {
		return nil, err
	}
	return Extract(lines, marker), nil
}

// lastIndex returns the index of the last line equal to item, or 0
func lastIndex(lines []string, item string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] == item {
			return i
		}
	}
	return 0
}

// lastRunes returns the last n characters of s, or s if it is shorter
func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// Command logstats prints the Average Precision / Average Recall figures of
// the last evaluation report in a training log as one comma separated line.
package main

import (
	"fmt"
	"io"
	"os"

	arg "github.com/alexflint/go-arg"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/tsawler/go-detdata/evallog"
)

type args struct {
	LogFile string `arg:"positional,required" help:"path to the training log"`
	Verbose bool   `arg:"-v,--verbose" help:"also print the matched lines"`
	IoUType string `arg:"--iou-type" help:"evaluation report to read (bbox, segm, keypoints)"`
	Table   bool   `arg:"--table" help:"also print the parsed metrics as a table"`
}

func (args) Description() string {
	return "Extracts the AP/AR values of the last evaluation report in a training log"
}

func main() {
	a := args{IoUType: evallog.DefaultIoUType}
	arg.MustParse(&a)

	if err := run(a, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(a args, w io.Writer) error {
	report, err := evallog.ExtractFile(a.LogFile, evallog.Marker(a.IoUType))
	if err != nil {
		return err
	}

	fmt.Fprintln(w, report.Summary())

	if a.Verbose {
		for _, line := range report.Lines {
			fmt.Fprintln(w, line)
		}
	}

	if a.Table {
		metrics, err := report.Metrics()
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Metric", "IoU", "Area", "MaxDets", "Value"})
		for _, m := range metrics {
			table.Append([]string{m.Name, m.IoU, m.Area, fmt.Sprint(m.MaxDets), fmt.Sprintf("%.3f", m.Value)})
		}
		table.Render()
	}
	return nil
}

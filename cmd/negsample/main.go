// Command negsample builds a negative-resampled COCO dataset and reports its
// size across a number of resampling rounds
package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tsawler/go-detdata/checkpoints"
	"github.com/tsawler/go-detdata/config"
	"github.com/tsawler/go-detdata/vision/coco"
	"github.com/tsawler/go-detdata/vision/dataloader"
	"github.com/tsawler/go-detdata/vision/dataset"
	"github.com/tsawler/go-detdata/vision/transforms"
)

type args struct {
	Config              string  `arg:"--config" help:"YAML dataset config, overrides the dataset flags"`
	ImgFolder           string  `arg:"--img-folder" help:"image folder"`
	AnnFile             string  `arg:"--ann-file" help:"COCO annotation file"`
	NegRatio            float64 `arg:"--neg-ratio" help:"fraction of negative images to keep"`
	ReturnMasks         bool    `arg:"--return-masks" help:"rasterize segmentation masks"`
	RemapMSCOCOCategory bool    `arg:"--remap-mscoco-category" help:"map MSCOCO category ids to contiguous labels"`
	Seed                int64   `arg:"--seed" help:"random seed, 0 seeds from the clock"`
	Resamples           int     `arg:"--resamples" help:"number of resampling rounds"`
	Resize              int     `arg:"--resize" help:"resize images to a square of this size before inspection"`
	HFlip               float64 `arg:"--hflip" help:"horizontal flip probability applied before inspection"`
	Inspect             int     `arg:"--inspect" help:"print the converted targets of the first N samples"`
	SaveIndex           string  `arg:"--save-index" help:"write the final index table to this file"`
	IndexFormat         string  `arg:"--index-format" help:"index file format: json or proto"`
	Debug               bool    `arg:"--debug" help:"enable debug logging"`
}

func (args) Description() string {
	return "Builds a dataset with all positive and a resampled share of negative images"
}

func main() {
	a := args{Resamples: 1, IndexFormat: "json"}
	arg.MustParse(&a)

	if a.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := run(a, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(a args, w io.Writer) error {
	cfg, err := datasetConfig(a)
	if err != nil {
		return err
	}

	seed := a.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	cfg.Rand = rand.New(rand.NewSource(seed))
	cfg.Transforms = buildTransforms(a, rand.New(rand.NewSource(seed+1)))

	log.Debug("[Main] Loading dataset from ", cfg.AnnFile)
	ds, err := dataset.NewResampledDataset(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, ds.Len())

	for i := 0; i < a.Resamples; i++ {
		if err := ds.ResampleNegatives(); err != nil {
			return err
		}
		fmt.Fprintln(w, ds.Len())
	}
	log.Debug("[Main] ", ds.String())

	if a.Inspect > 0 {
		if err := inspect(ds, a.Inspect, w); err != nil {
			return err
		}
	}

	if a.SaveIndex == "" {
		return nil
	}
	format, err := indexFormat(a.IndexFormat)
	if err != nil {
		return err
	}
	return checkpoints.NewIndexSaver(format).Save(checkpoints.Snapshot(ds), a.SaveIndex)
}

func buildTransforms(a args, rng *rand.Rand) coco.Transform {
	var tfs transforms.Compose
	if a.HFlip > 0 {
		tfs = append(tfs, transforms.NewRandomHorizontalFlip(a.HFlip, rng))
	}
	if a.Resize > 0 {
		tfs = append(tfs, transforms.NewResize(a.Resize, a.Resize))
	}
	if len(tfs) == 0 {
		return nil
	}
	return tfs
}

// inspect prints one line per converted sample of the first n samples
func inspect(ds *dataset.ResampledDataset, n int, w io.Writer) error {
	dl, err := dataloader.NewDataLoader(ds, dataloader.Config{BatchSize: n, Convert: true})
	if err != nil {
		return err
	}
	batch, err := dl.NextBatch()
	if err != nil {
		return err
	}
	for _, s := range batch {
		fmt.Fprintf(w, "%d %dx%d boxes=%d labels=%v masks=%d\n",
			s.ID, s.Tensor.Width, s.Tensor.Height, s.Target.Len(), s.Target.Labels, len(s.Target.Masks))
	}
	return nil
}

func datasetConfig(a args) (dataset.Config, error) {
	if a.Config != "" {
		cfg, err := config.Load(a.Config)
		if err != nil {
			return dataset.Config{}, err
		}
		return cfg.Dataset.ToDatasetConfig(), nil
	}

	dc := config.DatasetConfig{
		Type:                config.ResampledDatasetType,
		ImgFolder:           a.ImgFolder,
		AnnFile:             a.AnnFile,
		ReturnMasks:         a.ReturnMasks,
		RemapMSCOCOCategory: a.RemapMSCOCOCategory,
		NegRatio:            a.NegRatio,
	}
	if err := dc.Validate(); err != nil {
		return dataset.Config{}, err
	}
	return dc.ToDatasetConfig(), nil
}

func indexFormat(name string) (checkpoints.IndexFormat, error) {
	switch name {
	case "json":
		return checkpoints.FormatJSON, nil
	case "proto":
		return checkpoints.FormatProto, nil
	default:
		return 0, errors.Errorf("unknown index format %q", name)
	}
}

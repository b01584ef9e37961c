// Package config loads dataset definitions from YAML files
package config

import (
	"io/ioutil"
	"math"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/tsawler/go-detdata/vision/dataset"
)

// ResampledDatasetType is the dataset type name accepted in config files
const ResampledDatasetType = "RealColonDataset"

// Config is the root of a dataset configuration file
type Config struct {
	Dataset DatasetConfig `yaml:"dataset"`
}

// DatasetConfig describes one resampled COCO dataset
type DatasetConfig struct {
	Type                string  `yaml:"type"`
	ImgFolder           string  `yaml:"img_folder"`
	AnnFile             string  `yaml:"ann_file"`
	ReturnMasks         bool    `yaml:"return_masks"`
	RemapMSCOCOCategory bool    `yaml:"remap_mscoco_category"`
	NegRatio            float64 `yaml:"neg_ratio"`
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates configuration data
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Dataset.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the dataset definition is usable. A neg_ratio of
// zero or below is valid and keeps positives only.
func (c DatasetConfig) Validate() error {
	if c.Type != ResampledDatasetType {
		return errors.Errorf("unsupported dataset type %q", c.Type)
	}
	if c.ImgFolder == "" {
		return errors.New("img_folder is required")
	}
	if c.AnnFile == "" {
		return errors.New("ann_file is required")
	}
	if math.IsNaN(c.NegRatio) {
		return errors.New("neg_ratio must be a number")
	}
	return nil
}

// ToDatasetConfig converts the definition to a dataset.Config. Transforms and
// the random source are left for the caller to set.
func (c DatasetConfig) ToDatasetConfig() dataset.Config {
	return dataset.Config{
		ImgFolder:           c.ImgFolder,
		AnnFile:             c.AnnFile,
		ReturnMasks:         c.ReturnMasks,
		RemapMSCOCOCategory: c.RemapMSCOCOCategory,
		NegRatio:            c.NegRatio,
	}
}

package checkpoints

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// IndexFormat defines the serialization format of an index checkpoint
type IndexFormat int

const (
	FormatJSON IndexFormat = iota
	FormatProto
)

func (f IndexFormat) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// IndexCheckpoint captures the index table of a resampled dataset so that a
// resumed run iterates the same samples
type IndexCheckpoint struct {
	NegRatio  float64   `json:"neg_ratio"`
	IDs       []int64   `json:"ids"`
	CreatedAt time.Time `json:"created_at"`
}

// Field numbers of the proto encoding
const (
	fieldNegRatio  protowire.Number = 1
	fieldIDs       protowire.Number = 2
	fieldCreatedAt protowire.Number = 3
)

// IndexSaver saves and loads index checkpoints in one format
type IndexSaver struct {
	format IndexFormat
}

// NewIndexSaver creates a saver for the specified format
func NewIndexSaver(format IndexFormat) *IndexSaver {
	return &IndexSaver{format: format}
}

// Save writes the checkpoint to path
func (s *IndexSaver) Save(cp *IndexCheckpoint, path string) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	var data []byte
	var err error
	switch s.format {
	case FormatJSON:
		data, err = json.MarshalIndent(cp, "", "  ")
	case FormatProto:
		data = marshalProto(cp)
	default:
		return errors.Errorf("unsupported index format: %s", s.format)
	}
	if err != nil {
		return errors.Wrap(err, "failed to encode index checkpoint")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write index checkpoint")
	}
	return nil
}

// Load reads a checkpoint written by Save in the same format
func (s *IndexSaver) Load(path string) (*IndexCheckpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read index checkpoint")
	}

	switch s.format {
	case FormatJSON:
		var cp IndexCheckpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, errors.Wrap(err, "failed to decode index checkpoint")
		}
		return &cp, nil
	case FormatProto:
		return unmarshalProto(data)
	default:
		return nil, errors.Errorf("unsupported index format: %s", s.format)
	}
}

// IndexedDataset is a dataset whose index table can be captured and restored
type IndexedDataset interface {
	NegRatio() float64
	IndexTable() []int64
	RestoreIndexTable(ids []int64) error
}

// Snapshot captures the current index table of ds
func Snapshot(ds IndexedDataset) *IndexCheckpoint {
	return &IndexCheckpoint{
		NegRatio:  ds.NegRatio(),
		IDs:       ds.IndexTable(),
		CreatedAt: time.Now(),
	}
}

// Restore replaces the index table of ds with the checkpointed one. The
// checkpoint must have been taken with the same negative ratio.
func Restore(ds IndexedDataset, cp *IndexCheckpoint) error {
	if cp.NegRatio != ds.NegRatio() {
		return errors.Errorf("checkpoint negative ratio %g does not match dataset ratio %g",
			cp.NegRatio, ds.NegRatio())
	}
	return ds.RestoreIndexTable(cp.IDs)
}

func marshalProto(cp *IndexCheckpoint) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldNegRatio, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(cp.NegRatio))

	if len(cp.IDs) > 0 {
		var packed []byte
		for _, id := range cp.IDs {
			packed = protowire.AppendVarint(packed, uint64(id))
		}
		b = protowire.AppendTag(b, fieldIDs, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cp.CreatedAt.UnixNano()))
	return b
}

func unmarshalProto(b []byte) (*IndexCheckpoint, error) {
	cp := &IndexCheckpoint{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "malformed index checkpoint")
		}
		b = b[n:]

		switch {
		case num == fieldNegRatio && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed neg_ratio")
			}
			cp.NegRatio = math.Float64frombits(v)
			b = b[n:]

		case num == fieldIDs && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed ids")
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return nil, errors.Wrap(protowire.ParseError(m), "malformed id")
				}
				cp.IDs = append(cp.IDs, int64(v))
				packed = packed[m:]
			}
			b = b[n:]

		case num == fieldCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed created_at")
			}
			cp.CreatedAt = time.Unix(0, int64(v))
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed index checkpoint")
			}
			b = b[n:]
		}
	}
	return cp, nil
}

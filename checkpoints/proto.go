package checkpoints

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the checkpoint wire schema:
//
//	message Checkpoint      { repeated Weight weights = 1; TrainingState training_state = 2;
//	                          OptimizerState optimizer_state = 3; Metadata metadata = 4; }
//	message Weight          { string name = 1; repeated int64 shape = 2; repeated double data = 3; }
//	message TrainingState   { int64 epoch = 1; int64 step = 2; double learning_rate = 3;
//	                          double best_value = 4; int64 best_epoch = 5; string key_eval = 6; }
//	message OptimizerState  { string type = 1; repeated Param parameters = 2; repeated OptTensor state_data = 3; }
//	message Param           { string key = 1; double value = 2; }
//	message OptTensor       { string name = 1; repeated int64 shape = 2; repeated double data = 3; string state_type = 4; }
//	message Metadata        { string version = 1; string framework = 2; int64 created_at_unix_nano = 3;
//	                          string description = 4; repeated string tags = 5; }
const (
	fieldWeights        protowire.Number = 1
	fieldTrainingState  protowire.Number = 2
	fieldOptimizerState protowire.Number = 3
	fieldMetadata       protowire.Number = 4
)

var errTruncated = errors.New("truncated checkpoint message")

// MarshalProto encodes a checkpoint in protobuf wire format.
func MarshalProto(c *Checkpoint) []byte {
	var b []byte
	for _, w := range c.Weights {
		b = appendMessage(b, fieldWeights, appendTensor(nil, w.Name, w.Shape, w.Data, ""))
	}
	b = appendMessage(b, fieldTrainingState, appendTrainingState(nil, c.TrainingState))
	if c.OptimizerState != nil {
		b = appendMessage(b, fieldOptimizerState, appendOptimizerState(nil, c.OptimizerState))
	}
	b = appendMessage(b, fieldMetadata, appendMetadata(nil, c.Metadata))
	return b
}

// UnmarshalProto decodes a checkpoint written by MarshalProto. Unknown fields
// are skipped.
func UnmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldWeights:
			var w WeightTensor
			if err := decodeTensor(v, &w.Name, &w.Shape, &w.Data, nil); err != nil {
				return fmt.Errorf("weight: %w", err)
			}
			c.Weights = append(c.Weights, w)
		case fieldTrainingState:
			return decodeTrainingState(v, &c.TrainingState)
		case fieldOptimizerState:
			st := &OptimizerState{Parameters: map[string]float64{}}
			if err := decodeOptimizerState(v, st); err != nil {
				return fmt.Errorf("optimizer state: %w", err)
			}
			c.OptimizerState = st
		case fieldMetadata:
			return decodeMetadata(v, &c.Metadata)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPackedInts(b []byte, num protowire.Number, vs []int) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	return appendMessage(b, num, packed)
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendTensor(b []byte, name string, shape []int, data []float64, stateType string) []byte {
	b = appendString(b, 1, name)
	b = appendPackedInts(b, 2, shape)
	b = appendPackedDoubles(b, 3, data)
	return appendString(b, 4, stateType)
}

func appendTrainingState(b []byte, s TrainingState) []byte {
	b = appendInt(b, 1, int64(s.Epoch))
	b = appendInt(b, 2, int64(s.Step))
	b = appendDouble(b, 3, s.LearningRate)
	b = appendDouble(b, 4, s.BestValue)
	b = appendInt(b, 5, int64(s.BestEpoch))
	return appendString(b, 6, s.KeyEval)
}

func appendOptimizerState(b []byte, s *OptimizerState) []byte {
	b = appendString(b, 1, s.Type)
	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := appendString(nil, 1, k)
		p = appendDouble(p, 2, s.Parameters[k])
		b = appendMessage(b, 2, p)
	}
	for _, t := range s.StateData {
		b = appendMessage(b, 3, appendTensor(nil, t.Name, t.Shape, t.Data, t.StateType))
	}
	return b
}

func appendMetadata(b []byte, m CheckpointMetadata) []byte {
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = appendInt(b, 3, m.CreatedAt.UnixNano())
	}
	b = appendString(b, 4, m.Description)
	for _, t := range m.Tags {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	return b
}

// walk calls fn for every field in b. Length-delimited values are passed as
// their payload; varint and fixed64 values are passed re-encoded so callers
// can decode them uniformly.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType, protowire.Fixed64Type:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				v = b[:n]
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

func varint(typ protowire.Type, v []byte) (int64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("expected varint, got wire type %d", typ)
	}
	x, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return int64(x), nil
}

func double(typ protowire.Type, v []byte) (float64, error) {
	if typ != protowire.Fixed64Type {
		return 0, fmt.Errorf("expected fixed64, got wire type %d", typ)
	}
	x, n := protowire.ConsumeFixed64(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float64frombits(x), nil
}

// ints decodes a packed or a single unpacked repeated int64 field.
func ints(typ protowire.Type, v []byte) ([]int, error) {
	if typ == protowire.VarintType {
		x, err := varint(typ, v)
		return []int{int(x)}, err
	}
	var out []int
	for len(v) > 0 {
		x, n := protowire.ConsumeVarint(v)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int(int64(x)))
		v = v[n:]
	}
	return out, nil
}

// doubles decodes a packed or a single unpacked repeated double field.
func doubles(typ protowire.Type, v []byte) ([]float64, error) {
	if typ == protowire.Fixed64Type {
		x, err := double(typ, v)
		return []float64{x}, err
	}
	if len(v)%8 != 0 {
		return nil, errTruncated
	}
	out := make([]float64, 0, len(v)/8)
	for len(v) > 0 {
		x, n := protowire.ConsumeFixed64(v)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(x))
		v = v[n:]
	}
	return out, nil
}

func decodeTensor(b []byte, name *string, shape *[]int, data *[]float64, stateType *string) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			*name = string(v)
		case 2:
			xs, err := ints(typ, v)
			if err != nil {
				return err
			}
			*shape = append(*shape, xs...)
		case 3:
			xs, err := doubles(typ, v)
			if err != nil {
				return err
			}
			*data = append(*data, xs...)
		case 4:
			if stateType != nil {
				*stateType = string(v)
			}
		}
		return nil
	})
}

func decodeTrainingState(b []byte, s *TrainingState) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		var x int64
		switch num {
		case 1:
			x, err = varint(typ, v)
			s.Epoch = int(x)
		case 2:
			x, err = varint(typ, v)
			s.Step = int(x)
		case 3:
			s.LearningRate, err = double(typ, v)
		case 4:
			s.BestValue, err = double(typ, v)
		case 5:
			x, err = varint(typ, v)
			s.BestEpoch = int(x)
		case 6:
			s.KeyEval = string(v)
		}
		return err
	})
}

func decodeOptimizerState(b []byte, s *OptimizerState) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			s.Type = string(v)
		case 2:
			var key string
			var val float64
			err := walk(v, func(num protowire.Number, typ protowire.Type, v []byte) error {
				var err error
				switch num {
				case 1:
					key = string(v)
				case 2:
					val, err = double(typ, v)
				}
				return err
			})
			if err != nil {
				return err
			}
			s.Parameters[key] = val
		case 3:
			var t OptimizerTensor
			if err := decodeTensor(v, &t.Name, &t.Shape, &t.Data, &t.StateType); err != nil {
				return err
			}
			s.StateData = append(s.StateData, t)
		}
		return nil
	})
}

func decodeMetadata(b []byte, m *CheckpointMetadata) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.Version = string(v)
		case 2:
			m.Framework = string(v)
		case 3:
			ns, err := varint(typ, v)
			if err != nil {
				return err
			}
			m.CreatedAt = time.Unix(0, ns).UTC()
		case 4:
			m.Description = string(v)
		case 5:
			m.Tags = append(m.Tags, string(v))
		}
		return nil
	})
}

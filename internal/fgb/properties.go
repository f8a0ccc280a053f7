package fgb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb/geojson"
)

// schema is the column layout inferred from the features being written.
type schema struct {
	names []string
	types []flattypes.ColumnType
	index map[string]int
}

func inferSchema(features []*geojson.Feature) *schema {
	s := &schema{index: map[string]int{}}
	for _, f := range features {
		// sorted so the column order does not depend on map iteration
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := f.Properties[k]
			if v == nil {
				continue
			}
			t := columnType(v)
			if i, ok := s.index[k]; ok {
				s.types[i] = promote(s.types[i], t)
				continue
			}
			s.index[k] = len(s.names)
			s.names = append(s.names, k)
			s.types = append(s.types, t)
		}
	}
	return s
}

func columnType(v any) flattypes.ColumnType {
	switch v.(type) {
	case bool:
		return flattypes.ColumnTypeBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return flattypes.ColumnTypeLong
	case float32, float64:
		return flattypes.ColumnTypeDouble
	case string:
		return flattypes.ColumnTypeString
	}
	return flattypes.ColumnTypeJson
}

func promote(a, b flattypes.ColumnType) flattypes.ColumnType {
	switch {
	case a == b:
		return a
	case a == flattypes.ColumnTypeJson || b == flattypes.ColumnTypeJson:
		return flattypes.ColumnTypeJson
	case a == flattypes.ColumnTypeString || b == flattypes.ColumnTypeString:
		return flattypes.ColumnTypeString
	case a == flattypes.ColumnTypeBool || b == flattypes.ColumnTypeBool:
		return flattypes.ColumnTypeJson
	}
	return flattypes.ColumnTypeDouble
}

// encode writes props as (uint16 column, value) pairs in column order.
func (s *schema) encode(props geojson.Properties) []byte {
	var buf bytes.Buffer
	for i, name := range s.names {
		v, ok := props[name]
		if !ok || v == nil {
			continue
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint16(i))
		writeValue(&buf, s.types[i], v)
	}
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, t flattypes.ColumnType, v any) {
	var scratch [8]byte
	switch t {
	case flattypes.ColumnTypeBool:
		if b, _ := v.(bool); b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case flattypes.ColumnTypeLong:
		n, _ := toFloat(v)
		binary.LittleEndian.PutUint64(scratch[:], uint64(int64(n)))
		buf.Write(scratch[:])
	case flattypes.ColumnTypeDouble:
		f, _ := toFloat(v)
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(f))
		buf.Write(scratch[:])
	default:
		var data []byte
		if s, ok := v.(string); ok && t == flattypes.ColumnTypeString {
			data = []byte(s)
		} else {
			data, _ = json.Marshal(v)
		}
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(data)))
		buf.Write(scratch[:4])
		buf.Write(data)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// decodeProperties reads the property buffer of a feature.
func decodeProperties(data []byte, h *flattypes.Header) geojson.Properties {
	props := geojson.Properties{}
	for off := 0; off+2 <= len(data); {
		idx := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		var col flattypes.Column
		if idx >= h.ColumnsLength() || !h.Columns(&col, idx) {
			break
		}
		v, n := readValue(data[off:], col.Type())
		if n == 0 {
			break
		}
		props[string(col.Name())] = v
		off += n
	}
	return props
}

func readValue(data []byte, t flattypes.ColumnType) (any, int) {
	fixed := func(n int) bool { return len(data) >= n }
	switch t {
	case flattypes.ColumnTypeBool:
		if fixed(1) {
			return data[0] != 0, 1
		}
	case flattypes.ColumnTypeByte:
		if fixed(1) {
			return int64(int8(data[0])), 1
		}
	case flattypes.ColumnTypeUByte:
		if fixed(1) {
			return int64(data[0]), 1
		}
	case flattypes.ColumnTypeShort:
		if fixed(2) {
			return int64(int16(binary.LittleEndian.Uint16(data))), 2
		}
	case flattypes.ColumnTypeUShort:
		if fixed(2) {
			return int64(binary.LittleEndian.Uint16(data)), 2
		}
	case flattypes.ColumnTypeInt:
		if fixed(4) {
			return int64(int32(binary.LittleEndian.Uint32(data))), 4
		}
	case flattypes.ColumnTypeUInt:
		if fixed(4) {
			return int64(binary.LittleEndian.Uint32(data)), 4
		}
	case flattypes.ColumnTypeLong:
		if fixed(8) {
			return int64(binary.LittleEndian.Uint64(data)), 8
		}
	case flattypes.ColumnTypeULong:
		if fixed(8) {
			return binary.LittleEndian.Uint64(data), 8
		}
	case flattypes.ColumnTypeFloat:
		if fixed(4) {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), 4
		}
	case flattypes.ColumnTypeDouble:
		if fixed(8) {
			return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8
		}
	default:
		if !fixed(4) {
			return nil, 0
		}
		n := int(binary.LittleEndian.Uint32(data))
		if len(data) < 4+n {
			return nil, 0
		}
		raw := data[4 : 4+n]
		if t == flattypes.ColumnTypeJson {
			var v any
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, 4 + n
			}
		}
		return string(raw), 4 + n
	}
	return nil, 0
}

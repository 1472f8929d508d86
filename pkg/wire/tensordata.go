package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/x448/float16"

	"github.com/rhuss/tensorgate/pkg/api"
)

// DecodeTensorData converts inline JSON tensor data of the given shape into
// its binary form. Errors are InvalidArgument.
func DecodeTensorData(name string, dt api.DataType, shape []int64, raw json.RawMessage) ([]byte, error) {
	for _, dim := range shape {
		if dim < 0 {
			return nil, api.InvalidArgumentf("tensor '%s' has a negative dimension in shape %v", name, shape)
		}
	}
	return decodeJSONData(name, dt, raw, api.ElementCount(shape))
}

// decodeJSONData converts the inline JSON data of a tensor into its
// little-endian binary form. Nested arrays are flattened in row-major order.
func decodeJSONData(name string, dt api.DataType, raw json.RawMessage, count int64) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, api.InvalidArgumentf("failed to parse data for input '%s': %v", name, err)
	}

	elems := flatten(v, make([]any, 0, min(count, 1<<16)))
	if int64(len(elems)) != count {
		return nil, api.InvalidArgumentf("unexpected number of elements for input '%s', expecting %d, got %d", name, count, len(elems))
	}

	if dt == api.DataTypeBytes {
		return encodeStrings(name, elems)
	}

	size := dt.ElementSize()
	out := make([]byte, len(elems)*size)
	for i, e := range elems {
		if err := putElement(out[i*size:(i+1)*size], dt, e); err != nil {
			return nil, api.InvalidArgumentf("invalid element %d of input '%s': %v", i, name, err)
		}
	}
	return out, nil
}

func flatten(v any, dst []any) []any {
	arr, ok := v.([]any)
	if !ok {
		return append(dst, v)
	}
	for _, e := range arr {
		dst = flatten(e, dst)
	}
	return dst
}

// encodeStrings writes each element as [uint32 LE length][bytes]. The total
// size is measured first so the buffer is allocated once.
func encodeStrings(name string, elems []any) ([]byte, error) {
	total := 0
	for i, e := range elems {
		s, ok := e.(string)
		if !ok {
			return nil, api.InvalidArgumentf("invalid element %d of input '%s': expected string, got %s", i, name, jsonKind(e))
		}
		total += 4 + len(s)
	}

	out := make([]byte, 0, total)
	for _, e := range elems {
		s := e.(string)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(s)))
		out = append(out, s...)
	}
	return out, nil
}

func putElement(dst []byte, dt api.DataType, e any) error {
	if dt == api.DataTypeBool {
		b, ok := e.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %s", jsonKind(e))
		}
		if b {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
		return nil
	}

	n, ok := e.(json.Number)
	if !ok {
		return fmt.Errorf("expected number, got %s", jsonKind(e))
	}

	switch dt {
	case api.DataTypeUint8, api.DataTypeUint16, api.DataTypeUint32, api.DataTypeUint64:
		v, err := strconv.ParseUint(n.String(), 10, dt.ElementSize()*8)
		if err != nil {
			return err
		}
		putUint(dst, v)
	case api.DataTypeInt8, api.DataTypeInt16, api.DataTypeInt32, api.DataTypeInt64:
		v, err := strconv.ParseInt(n.String(), 10, dt.ElementSize()*8)
		if err != nil {
			return err
		}
		putUint(dst, uint64(v))
	case api.DataTypeFP16:
		f, err := n.Float64()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(dst, float16.Fromfloat32(float32(f)).Bits())
	case api.DataTypeBF16:
		f, err := n.Float64()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(dst, uint16(math.Float32bits(float32(f))>>16))
	case api.DataTypeFP32:
		f, err := n.Float64()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(f)))
	case api.DataTypeFP64:
		f, err := n.Float64()
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(dst, math.Float64bits(f))
	default:
		return fmt.Errorf("unsupported datatype %s", dt)
	}
	return nil
}

// putUint writes the low len(dst) bytes of v little-endian.
func putUint(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v >> (8 * i))
	}
}

func getUint(src []byte) uint64 {
	var v uint64
	for i := range src {
		v |= uint64(src[i]) << (8 * i)
	}
	return v
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// jsonValues converts the binary form of an output tensor to JSON values.
func jsonValues(dt api.DataType, data []byte) ([]any, error) {
	if dt == api.DataTypeBytes {
		strs, err := splitStrings(data)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(strs))
		for i, s := range strs {
			out[i] = string(s)
		}
		return out, nil
	}

	size := dt.ElementSize()
	if size == 0 {
		return nil, fmt.Errorf("unsupported datatype %s", dt)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of the %s element size", len(data), dt)
	}

	out := make([]any, len(data)/size)
	for i := range out {
		out[i] = elementValue(dt, data[i*size:(i+1)*size])
	}
	return out, nil
}

func elementValue(dt api.DataType, b []byte) any {
	switch dt {
	case api.DataTypeBool:
		return b[0] != 0
	case api.DataTypeUint8, api.DataTypeUint16, api.DataTypeUint32, api.DataTypeUint64:
		return getUint(b)
	case api.DataTypeInt8:
		return int64(int8(b[0]))
	case api.DataTypeInt16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case api.DataTypeInt32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case api.DataTypeInt64:
		return int64(binary.LittleEndian.Uint64(b))
	case api.DataTypeFP16:
		return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
	case api.DataTypeBF16:
		return math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16)
	case api.DataTypeFP32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case api.DataTypeFP64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return nil
	}
}

// numericValues converts the binary form of a numeric tensor to float64.
func numericValues(dt api.DataType, data []byte) ([]float64, error) {
	if !dt.IsNumeric() {
		return nil, fmt.Errorf("datatype %s is not numeric", dt)
	}
	vals, err := jsonValues(dt, data)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case uint64:
			out[i] = float64(x)
		case int64:
			out[i] = float64(x)
		case float32:
			out[i] = float64(x)
		case float64:
			out[i] = x
		}
	}
	return out, nil
}

// splitStrings splits a sequence of [uint32 LE length][payload] elements.
// The returned payloads alias data.
func splitStrings(data []byte) ([][]byte, error) {
	var out [][]byte
	for off := 0; off < len(data); {
		if len(data)-off < 4 {
			return nil, fmt.Errorf("truncated length prefix at offset %d", off)
		}
		n := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if n > len(data)-off {
			return nil, fmt.Errorf("element of %d bytes at offset %d exceeds buffer", n, off-4)
		}
		out = append(out, data[off:off+n:off+n])
		off += n
	}
	return out, nil
}

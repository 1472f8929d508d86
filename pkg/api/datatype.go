package api

import "fmt"

// DataType is the wire name of a tensor element type.
type DataType string

const (
	DataTypeBool   DataType = "BOOL"
	DataTypeUint8  DataType = "UINT8"
	DataTypeUint16 DataType = "UINT16"
	DataTypeUint32 DataType = "UINT32"
	DataTypeUint64 DataType = "UINT64"
	DataTypeInt8   DataType = "INT8"
	DataTypeInt16  DataType = "INT16"
	DataTypeInt32  DataType = "INT32"
	DataTypeInt64  DataType = "INT64"
	DataTypeFP16   DataType = "FP16"
	DataTypeBF16   DataType = "BF16"
	DataTypeFP32   DataType = "FP32"
	DataTypeFP64   DataType = "FP64"
	DataTypeBytes  DataType = "BYTES"
)

// ParseDataType validates a datatype name from a wire header.
func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(s); dt {
	case DataTypeBool, DataTypeUint8, DataTypeUint16, DataTypeUint32, DataTypeUint64,
		DataTypeInt8, DataTypeInt16, DataTypeInt32, DataTypeInt64,
		DataTypeFP16, DataTypeBF16, DataTypeFP32, DataTypeFP64, DataTypeBytes:
		return dt, nil
	default:
		return "", fmt.Errorf("unknown datatype %q", s)
	}
}

// ElementSize returns the byte width of one element. BYTES elements have
// variable size and report 0.
func (d DataType) ElementSize() int {
	switch d {
	case DataTypeBool, DataTypeUint8, DataTypeInt8:
		return 1
	case DataTypeUint16, DataTypeInt16, DataTypeFP16, DataTypeBF16:
		return 2
	case DataTypeUint32, DataTypeInt32, DataTypeFP32:
		return 4
	case DataTypeUint64, DataTypeInt64, DataTypeFP64:
		return 8
	default:
		return 0
	}
}

// IsNumeric reports whether elements of d can be ranked by value.
func (d DataType) IsNumeric() bool {
	return d != DataTypeBytes && d != DataTypeBool && d.ElementSize() > 0
}

// ElementCount returns the number of elements described by shape. A shape
// with no dimensions describes a scalar.
func ElementCount(shape []int64) int64 {
	count := int64(1)
	for _, dim := range shape {
		count *= dim
	}
	return count
}

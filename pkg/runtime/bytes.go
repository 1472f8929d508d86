package runtime

import "encoding/binary"

// FrameBytes returns data as a sequence of length-prefixed BYTES elements.
// Data that already parses as such a sequence is returned as is. Anything
// else, typically a raw record payload, becomes a single element. The
// second result reports whether a prefix was added.
func FrameBytes(data []byte) ([]byte, bool) {
	if validElements(data) {
		return data, false
	}
	framed := make([]byte, 0, 4+len(data))
	framed = binary.LittleEndian.AppendUint32(framed, uint32(len(data)))
	return append(framed, data...), true
}

func validElements(data []byte) bool {
	for off := 0; off < len(data); {
		if len(data)-off < 4 {
			return false
		}
		n := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if n > len(data)-off {
			return false
		}
		off += n
	}
	return true
}

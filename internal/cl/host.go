package cl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeHost serializes host slices the way the device would see them
// (little-endian, packed). Used by the mock runtime.
func encodeHost(data any) ([]byte, error) {
	switch v := data.(type) {
	case []float32:
		out := make([]byte, len(v)*4)
		for i, f := range v {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
		}
		return out, nil
	case []float64:
		out := make([]byte, len(v)*8)
		for i, f := range v {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(f))
		}
		return out, nil
	case []int32:
		out := make([]byte, len(v)*4)
		for i, n := range v {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(n))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrBadHostData, data)
	}
}

func decodeHost(buf []byte, dst any) error {
	switch v := dst.(type) {
	case []float32:
		if len(v)*4 > len(buf) {
			return fmt.Errorf("%w: want %d bytes, have %d", ErrBadHostData, len(v)*4, len(buf))
		}
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return nil
	case []float64:
		if len(v)*8 > len(buf) {
			return fmt.Errorf("%w: want %d bytes, have %d", ErrBadHostData, len(v)*8, len(buf))
		}
		for i := range v {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
		return nil
	case []int32:
		if len(v)*4 > len(buf) {
			return fmt.Errorf("%w: want %d bytes, have %d", ErrBadHostData, len(v)*4, len(buf))
		}
		for i := range v {
			v[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrBadHostData, dst)
	}
}

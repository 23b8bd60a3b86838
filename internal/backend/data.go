package backend

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/lamng3/gojax/internal/shapes"
)

// Element codecs between host float64 values and little-endian device
// bytes. float64 carries every int32/uint32 exactly, so it is the uniform
// interchange type on the host side.

// Get reads element i of a packed buffer.
func Get(dtype shapes.DType, buf []byte, i int) float64 {
	switch dtype {
	case shapes.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
	case shapes.Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[i*4:])))
	case shapes.Uint32:
		return float64(binary.LittleEndian.Uint32(buf[i*4:]))
	case shapes.Bool:
		if buf[i] != 0 {
			return 1
		}
		return 0
	}
	panic("backend: no codec for dtype " + dtype.String())
}

// Put writes element i of a packed buffer.
func Put(dtype shapes.DType, buf []byte, i int, v float64) {
	switch dtype {
	case shapes.Float32:
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	case shapes.Int32:
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(v)))
	case shapes.Uint32:
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	case shapes.Bool:
		if v != 0 {
			buf[i] = 1
		} else {
			buf[i] = 0
		}
	default:
		panic("backend: no codec for dtype " + dtype.String())
	}
}

// Encode packs host values into a fresh device byte buffer.
func Encode(dtype shapes.DType, vals []float64) ([]byte, error) {
	if err := CheckDType(dtype); err != nil {
		return nil, err
	}
	buf := make([]byte, len(vals)*dtype.Size())
	for i, v := range vals {
		Put(dtype, buf, i, v)
	}
	return buf, nil
}

// Decode unpacks a device byte buffer into host values.
func Decode(dtype shapes.DType, data []byte) ([]float64, error) {
	if err := CheckDType(dtype); err != nil {
		return nil, err
	}
	n := len(data) / dtype.Size()
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = Get(dtype, data, i)
	}
	return vals, nil
}

// CheckDType reports whether a dtype has a device representation.
// complex64 exists in the dtype lattice but no backend executes it.
func CheckDType(dtype shapes.DType) error {
	switch dtype {
	case shapes.Float32, shapes.Int32, shapes.Uint32, shapes.Bool:
		return nil
	}
	return errors.Errorf("backend: dtype %s has no device representation", dtype)
}

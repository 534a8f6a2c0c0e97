// Package keycodec converts fixed-width integers and floats to binary keys
// whose byte-lexicographic order matches the numeric order of the encoded
// value. The persisted-index layer relies on this to keep sorted structures
// sortable as raw bytes.
//
// Unsigned integers encode as plain big-endian. Signed integers flip the
// sign bit so negatives sort before positives. Float32 values map through a
// monotone bit transform: non-negative floats get the sign bit set,
// negative floats are bitwise-negated. The transform covers all finite
// values; NaN has no defined position and +0/-0 encode identically, both
// explicitly outside the order contract.
package keycodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/scanngo/core"
)

const (
	keyWidth32 = 4
	keyWidth64 = 8

	signBit32 = uint32(1) << 31
	signBit64 = uint64(1) << 63
)

// ErrInvalidKeyLength indicates a decode input whose byte length does not
// match the expected fixed width. It satisfies
// errors.Is(err, core.ErrInvalidArgument).
type ErrInvalidKeyLength struct {
	Expected int
	Actual   int
}

func (e *ErrInvalidKeyLength) Error() string {
	return fmt.Sprintf("invalid key length: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrInvalidKeyLength) Unwrap() error { return core.ErrInvalidArgument }

// Uint32ToKey encodes v as a 4-byte big-endian key.
func Uint32ToKey(v uint32) []byte {
	key := make([]byte, keyWidth32)
	binary.BigEndian.PutUint32(key, v)
	return key
}

// AppendUint32 appends the key encoding of v to dst.
func AppendUint32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

// KeyToUint32 decodes a 4-byte key produced by Uint32ToKey.
func KeyToUint32(key []byte) (uint32, error) {
	if len(key) != keyWidth32 {
		return 0, &ErrInvalidKeyLength{Expected: keyWidth32, Actual: len(key)}
	}
	return binary.BigEndian.Uint32(key), nil
}

// Int32ToKey encodes v with the sign bit flipped, so the byte order of keys
// matches the numeric order of signed values.
func Int32ToKey(v int32) []byte {
	return Uint32ToKey(uint32(v) ^ signBit32)
}

// KeyToInt32 decodes a 4-byte key produced by Int32ToKey.
func KeyToInt32(key []byte) (int32, error) {
	u, err := KeyToUint32(key)
	if err != nil {
		return 0, err
	}
	return int32(u ^ signBit32), nil
}

// Uint64ToKey encodes v as an 8-byte big-endian key.
func Uint64ToKey(v uint64) []byte {
	key := make([]byte, keyWidth64)
	binary.BigEndian.PutUint64(key, v)
	return key
}

// KeyToUint64 decodes an 8-byte key produced by Uint64ToKey.
func KeyToUint64(key []byte) (uint64, error) {
	if len(key) != keyWidth64 {
		return 0, &ErrInvalidKeyLength{Expected: keyWidth64, Actual: len(key)}
	}
	return binary.BigEndian.Uint64(key), nil
}

// Int64ToKey encodes v with the sign bit flipped (see Int32ToKey).
func Int64ToKey(v int64) []byte {
	return Uint64ToKey(uint64(v) ^ signBit64)
}

// KeyToInt64 decodes an 8-byte key produced by Int64ToKey.
func KeyToInt64(key []byte) (int64, error) {
	u, err := KeyToUint64(key)
	if err != nil {
		return 0, err
	}
	return int64(u ^ signBit64), nil
}

// uintFromIEEE754 maps float32 bits to a uint32 whose unsigned order
// matches the numeric order of the float: non-negative values get the sign
// bit set, negative values are two's-complement negated so that more
// negative floats map to smaller integers.
func uintFromIEEE754(f float32) uint32 {
	n := math.Float32bits(f)
	if n&signBit32 == 0 {
		return n + signBit32
	}
	return -n
}

// ieee754FromUint inverts uintFromIEEE754.
func ieee754FromUint(n uint32) float32 {
	if n&signBit32 != 0 {
		return math.Float32frombits(n - signBit32)
	}
	return math.Float32frombits(-n)
}

// FloatToKey encodes a float32 as a 4-byte order-preserving key.
func FloatToKey(f float32) []byte {
	return Uint32ToKey(uintFromIEEE754(f))
}

// KeyToFloat decodes a 4-byte key produced by FloatToKey.
func KeyToFloat(key []byte) (float32, error) {
	n, err := KeyToUint32(key)
	if err != nil {
		return 0, err
	}
	return ieee754FromUint(n), nil
}

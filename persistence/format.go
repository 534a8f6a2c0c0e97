package persistence

import (
	"errors"
	"fmt"
)

const (
	// MagicNumber identifies scanngo artifact files ("SCNG").
	MagicNumber uint32 = 0x53434E47

	// Version is the current container format version.
	Version uint32 = 1
)

// Compression selects the codec applied to the section payload after the
// header. Partitioner snapshots default to zstd (best ratio for center
// matrices); dataset snapshots default to lz4 (fastest decode on load).
type Compression uint32

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(c))
	}
}

var (
	// ErrInvalidMagic indicates a file that is not a scanngo artifact.
	ErrInvalidMagic = errors.New("invalid magic number")

	// ErrInvalidVersion indicates an unsupported container version.
	ErrInvalidVersion = errors.New("invalid format version")

	// ErrInvalidCompression indicates an unknown compression flag.
	ErrInvalidCompression = errors.New("invalid compression flag")
)

// FileHeader is the fixed-size artifact file header.
type FileHeader struct {
	Magic       uint32
	Version     uint32
	Compression uint32
	Reserved    uint32
}

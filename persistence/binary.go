package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// BinaryWriter writes artifact sections in the container format.
type BinaryWriter struct {
	w         io.Writer
	byteOrder binary.ByteOrder
}

// NewBinaryWriter creates a writer for the given stream.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{
		w:         w,
		byteOrder: binary.LittleEndian, // Native on x86/ARM
	}
}

// WriteHeader writes the file header, forcing magic and version.
func (bw *BinaryWriter) WriteHeader(compression Compression) error {
	header := FileHeader{
		Magic:       MagicNumber,
		Version:     Version,
		Compression: uint32(compression),
	}
	return binary.Write(bw.w, bw.byteOrder, &header)
}

// WriteUint32 writes a single uint32 value.
func (bw *BinaryWriter) WriteUint32(v uint32) error {
	return binary.Write(bw.w, bw.byteOrder, v)
}

// WriteInt32 writes a single int32 value.
func (bw *BinaryWriter) WriteInt32(v int32) error {
	return binary.Write(bw.w, bw.byteOrder, v)
}

// WriteFloat32 writes a single float32 value.
func (bw *BinaryWriter) WriteFloat32(v float32) error {
	return binary.Write(bw.w, bw.byteOrder, v)
}

// WriteString writes a length-prefixed string.
func (bw *BinaryWriter) WriteString(s string) error {
	if err := bw.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(bw.w, s)
	return err
}

// WriteFloat32Slice writes a float32 slice as raw bytes (no length prefix).
func (bw *BinaryWriter) WriteFloat32Slice(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	_, err := bw.w.Write(byteSlice)
	return err
}

// WriteInt32Slice writes an int32 slice as raw bytes (no length prefix).
func (bw *BinaryWriter) WriteInt32Slice(slice []int32) error {
	if len(slice) == 0 {
		return nil
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), len(slice)*4)
	_, err := bw.w.Write(byteSlice)
	return err
}

// WriteBytes writes a length-prefixed byte block.
func (bw *BinaryWriter) WriteBytes(b []byte) error {
	if err := bw.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	_, err := bw.w.Write(b)
	return err
}

// BinaryReader reads artifact sections from the container format.
type BinaryReader struct {
	r         io.Reader
	byteOrder binary.ByteOrder
}

// NewBinaryReader creates a reader for the given stream.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{
		r:         r,
		byteOrder: binary.LittleEndian,
	}
}

// ReadHeader reads and validates the file header.
func (br *BinaryReader) ReadHeader() (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(br.r, br.byteOrder, &header); err != nil {
		return nil, err
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidVersion, header.Version)
	}
	if header.Compression > uint32(CompressionLZ4) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCompression, header.Compression)
	}
	return &header, nil
}

// ReadUint32 reads a single uint32 value.
func (br *BinaryReader) ReadUint32() (uint32, error) {
	var v uint32
	err := binary.Read(br.r, br.byteOrder, &v)
	return v, err
}

// ReadInt32 reads a single int32 value.
func (br *BinaryReader) ReadInt32() (int32, error) {
	var v int32
	err := binary.Read(br.r, br.byteOrder, &v)
	return v, err
}

// ReadFloat32 reads a single float32 value.
func (br *BinaryReader) ReadFloat32() (float32, error) {
	var v float32
	err := binary.Read(br.r, br.byteOrder, &v)
	return v, err
}

// ReadString reads a length-prefixed string.
func (br *BinaryReader) ReadString() (string, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadFloat32Slice reads count float32 values written by WriteFloat32Slice.
func (br *BinaryReader) ReadFloat32Slice(count int) ([]float32, error) {
	if count == 0 {
		return nil, nil
	}
	vec := make([]float32, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), count*4)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}
	return vec, nil
}

// ReadInt32Slice reads count int32 values written by WriteInt32Slice.
func (br *BinaryReader) ReadInt32Slice(count int) ([]int32, error) {
	if count == 0 {
		return nil, nil
	}
	slice := make([]int32, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), count*4)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}
	return slice, nil
}

// ReadBytes reads a length-prefixed byte block written by WriteBytes.
func (br *BinaryReader) ReadBytes() ([]byte, error) {
	n, err := br.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SaveToFile writes an artifact atomically: the header goes to the file
// uncompressed, the payload produced by writeFunc is wrapped in the chosen
// compression codec, and the result replaces filename via rename.
func SaveToFile(filename string, compression Compression, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	// Write to a temp file in the same directory so the rename is atomic.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := NewBinaryWriter(buf).WriteHeader(compression); err != nil {
		return err
	}

	var payload io.Writer = buf
	var closeCodec func() error
	switch compression {
	case CompressionNone:
	case CompressionZstd:
		enc, err := zstd.NewWriter(buf)
		if err != nil {
			return err
		}
		payload = enc
		closeCodec = enc.Close
	case CompressionLZ4:
		enc := lz4.NewWriter(buf)
		payload = enc
		closeCodec = enc.Close
	default:
		return fmt.Errorf("%w: %d", ErrInvalidCompression, compression)
	}

	if err := writeFunc(payload); err != nil {
		return err
	}
	if closeCodec != nil {
		if err := closeCodec(); err != nil {
			return err
		}
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	// Success: prevent deferred cleanup from removing the final file.
	tmpName = ""
	return nil
}

// LoadFromFile opens an artifact, validates the header and hands the
// (decompressed) payload stream to readFunc.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, 256*1024)
	header, err := NewBinaryReader(buf).ReadHeader()
	if err != nil {
		return err
	}

	var payload io.Reader = buf
	switch Compression(header.Compression) {
	case CompressionNone:
	case CompressionZstd:
		dec, err := zstd.NewReader(buf)
		if err != nil {
			return err
		}
		defer dec.Close()
		payload = dec
	case CompressionLZ4:
		payload = lz4.NewReader(buf)
	}

	return readFunc(payload)
}

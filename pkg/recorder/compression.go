package recorder

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm used for trace documents
type CompressionType int

const (
	// NoCompression writes plain JSON
	NoCompression CompressionType = iota
	// ZstdCompression writes a Zstandard frame
	ZstdCompression
)

var (
	// DefaultCompression is the default compression algorithm
	DefaultCompression = NoCompression

	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)

	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// String returns the string representation of the CompressionType
func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression parses a compression name as used in configuration
func ParseCompression(name string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "off", "false":
		return NoCompression, nil
	case "zstd", "on", "true":
		return ZstdCompression, nil
	}
	return NoCompression, fmt.Errorf("unknown compression %q", name)
}

// DetectCompression inspects the leading bytes of a document
func DetectCompression(data []byte) CompressionType {
	if bytes.HasPrefix(data, zstdMagic) {
		return ZstdCompression
	}
	return NoCompression
}

// CompressData compresses a byte slice using the specified compression algorithm
func CompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	if compressionType == NoCompression {
		return data, nil
	}

	// Currently we only support Zstd
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// DecompressData decompresses a byte slice using the specified compression algorithm
func DecompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	if compressionType == NoCompression {
		return data, nil
	}

	return zstdDecoder.DecodeAll(data, nil)
}

// NewCompressedWriter returns a writer that compresses data before writing
func NewCompressedWriter(w io.Writer, compressionType CompressionType) (io.Writer, error) {
	if compressionType == NoCompression {
		return w, nil
	}
	return zstd.NewWriter(w)
}

// CloseCompressedWriter flushes the final frame of a compressed writer
func CloseCompressedWriter(w io.Writer) error {
	if zw, ok := w.(*zstd.Encoder); ok {
		return zw.Close()
	}
	return nil
}

// ReadAndDecompressBytes reads a whole document, detecting its compression
func ReadAndDecompressBytes(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return DecompressData(buf.Bytes(), DetectCompression(buf.Bytes()))
}

package recorder

import (
	"bytes"
	"testing"
)

func TestCompression(t *testing.T) {
	// Test data
	testData := []byte(`{"breakpoints":[{"location":"main","state":"before call of helper"}]}`)

	compressed, err := CompressData(testData, ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to compress data: %v", err)
	}

	if DetectCompression(compressed) != ZstdCompression {
		t.Errorf("Expected compressed data to be detected as zstd")
	}
	if DetectCompression(testData) != NoCompression {
		t.Errorf("Expected plain JSON to be detected as uncompressed")
	}

	decompressed, err := DecompressData(compressed, ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to decompress data: %v", err)
	}

	if !bytes.Equal(decompressed, testData) {
		t.Fatalf("Decompressed data does not match original")
	}
}

func TestCompressedWriter(t *testing.T) {
	// Setup buffer to write to
	var buf bytes.Buffer

	writer, err := NewCompressedWriter(&buf, ZstdCompression)
	if err != nil {
		t.Fatalf("Failed to create compressed writer: %v", err)
	}

	testData := []byte("This is test data for the compressed writer.")

	n, err := writer.Write(testData)
	if err != nil {
		t.Fatalf("Failed to write to compressed writer: %v", err)
	}
	if n != len(testData) {
		t.Fatalf("Expected to write %d bytes, wrote %d", len(testData), n)
	}

	if err := CloseCompressedWriter(writer); err != nil {
		t.Fatalf("Failed to close compressed writer: %v", err)
	}

	// Read it back with detection
	got, err := ReadAndDecompressBytes(&buf)
	if err != nil {
		t.Fatalf("Failed to read compressed data: %v", err)
	}
	if !bytes.Equal(got, testData) {
		t.Errorf("Expected %q, got %q", testData, got)
	}
}

func TestNoCompressionPassthrough(t *testing.T) {
	var buf bytes.Buffer
	writer, err := NewCompressedWriter(&buf, NoCompression)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	writer.Write([]byte("plain"))
	if err := CloseCompressedWriter(writer); err != nil {
		t.Fatalf("Unexpected close error: %v", err)
	}
	if buf.String() != "plain" {
		t.Errorf("Expected plain output, got %q", buf.String())
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		name    string
		want    CompressionType
		wantErr bool
	}{
		{"", NoCompression, false},
		{"none", NoCompression, false},
		{"ZSTD", ZstdCompression, false},
		{"gzip", NoCompression, true},
	}

	for _, tc := range tests {
		got, err := ParseCompression(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseCompression(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseCompression(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

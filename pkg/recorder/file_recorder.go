package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileRecorder collects captures in memory and writes them as one trace
// document when closed, so a run interrupted at any point still produces a
// well-formed file.
type FileRecorder struct {
	mem      *InMemoryRecorder
	file     *os.File
	path     string
	options  FileRecorderOptions
	redactor *Redactor

	closeOnce sync.Once
	closeErr  error
}

// FileRecorderOptions contains options for creating a file recorder
type FileRecorderOptions struct {
	CompressionType CompressionType
	Security        SecurityOptions
}

// DefaultFileRecorderOptions returns default options for file recorder
func DefaultFileRecorderOptions() FileRecorderOptions {
	return FileRecorderOptions{
		CompressionType: DefaultCompression,
		Security:        DefaultSecurityOptions(),
	}
}

// NewFileRecorder creates a new file recorder with default options
func NewFileRecorder(path string) (*FileRecorder, error) {
	return NewFileRecorderWithOptions(path, DefaultFileRecorderOptions())
}

// NewFileRecorderWithOptions creates a new file recorder with the given
// options. The output file is created immediately so an unwritable path is
// reported before tracing starts.
func NewFileRecorderWithOptions(path string, options FileRecorderOptions) (*FileRecorder, error) {
	fr := &FileRecorder{
		mem:     NewInMemoryRecorder(),
		path:    path,
		options: options,
	}
	if options.Security.EnableRedaction {
		r, err := NewRedactor(options.Security.RedactionPatterns, options.Security.RedactionReplacement)
		if err != nil {
			return nil, err
		}
		fr.redactor = r
	}
	if options.Security.EnableIntegrityCheck && len(options.Security.IntegrityKey) == 0 {
		return nil, fmt.Errorf("integrity check requires a key")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	fr.file = f
	return fr, nil
}

// Path returns the output path
func (fr *FileRecorder) Path() string {
	return fr.path
}

// RecordCapture appends a capture, redacting it first when enabled
func (fr *FileRecorder) RecordCapture(c Capture) error {
	if fr.redactor != nil {
		c = fr.redactor.Capture(c)
	}
	return fr.mem.RecordCapture(c)
}

// Captures returns the captures recorded so far
func (fr *FileRecorder) Captures() []Capture {
	return fr.mem.Captures()
}

// Clear drops the captures recorded so far
func (fr *FileRecorder) Clear() {
	fr.mem.Clear()
}

// Close writes the trace document and closes the file. Subsequent calls
// return the first result.
func (fr *FileRecorder) Close() error {
	fr.closeOnce.Do(func() {
		fr.closeErr = fr.write()
		if err := fr.file.Close(); err != nil && fr.closeErr == nil {
			fr.closeErr = err
		}
		if fr.closeErr == nil && fr.options.Security.EnableIntegrityCheck {
			fr.closeErr = fr.writeDigest()
		}
	})
	return fr.closeErr
}

func (fr *FileRecorder) write() error {
	bufWriter := bufio.NewWriter(fr.file)
	if err := WriteDocument(bufWriter, Document{Breakpoints: fr.mem.Captures()}, fr.options.CompressionType); err != nil {
		return err
	}
	return bufWriter.Flush()
}

func (fr *FileRecorder) writeDigest() error {
	data, err := os.ReadFile(fr.path)
	if err != nil {
		return err
	}
	digest := CalculateHMAC(data, fr.options.Security.IntegrityKey)
	return os.WriteFile(IntegrityPath(fr.path), []byte(digest+"\n"), 0644)
}

// WriteDocument encodes doc as indented JSON, compressing it if requested
func WriteDocument(w io.Writer, doc Document, compressionType CompressionType) error {
	if doc.Breakpoints == nil {
		doc.Breakpoints = []Capture{}
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}

	writer, err := NewCompressedWriter(w, compressionType)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	if _, err := writer.Write([]byte{'\n'}); err != nil {
		return err
	}
	return CloseCompressedWriter(writer)
}

// ReadDocument loads a trace document, compressed or not
func ReadDocument(r io.Reader) (Document, error) {
	data, err := ReadAndDecompressBytes(r)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read trace: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode trace: %w", err)
	}
	return doc, nil
}

// ReadFile loads the trace document at path
func ReadFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()
	return ReadDocument(f)
}

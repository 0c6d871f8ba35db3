package engine

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
)

// Source supplies the raw bytes of a document
type Source interface {
	ReadAll() ([]byte, error)
}

// FileSource reads a document from disk
type FileSource string

func (f FileSource) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}
	return data, nil
}

// BytesSource is a document already in memory
type BytesSource []byte

func (b BytesSource) ReadAll() ([]byte, error) { return b, nil }

// ReaderSource reads a document from a stream
type ReaderSource struct {
	R io.Reader
}

func (r ReaderSource) ReadAll() ([]byte, error) {
	data, err := io.ReadAll(r.R)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF stream: %w", err)
	}
	return data, nil
}

// calculateHash identifies a document by content so its disk tiles survive reopening
func calculateHash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

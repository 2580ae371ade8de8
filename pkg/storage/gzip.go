package storage

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

const gzipSuffix = ".gz"

var gzipMagic = []byte{0x1f, 0x8b}

// Compressing wraps a Storage so stored files are gzip-encoded.
type Compressing struct {
	Storage
}

func NewCompressing(inner Storage) *Compressing {
	return &Compressing{Storage: inner}
}

func (c *Compressing) Store(ctx context.Context, userID uuid.UUID, filename string, r io.Reader) (string, error) {
	pr, pw := io.Pipe()
	go func() {
		zw := gzip.NewWriter(pw)
		_, err := io.Copy(zw, r)
		if closeErr := zw.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()
	key, err := c.Storage.Store(ctx, userID, filename+gzipSuffix, pr)
	pr.Close()
	return key, err
}

// Open reads a stored file, decompressing it when the path ends in ".gz" or
// the content starts with the gzip magic bytes.
func Open(ctx context.Context, s Storage, key string) (io.ReadCloser, error) {
	rc, err := s.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(rc)
	compressed := strings.HasSuffix(strings.ToLower(key), gzipSuffix)
	if !compressed {
		head, _ := br.Peek(len(gzipMagic))
		compressed = bytes.Equal(head, gzipMagic)
	}
	if !compressed {
		return readCloser{Reader: br, close: rc.Close}, nil
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return readCloser{Reader: zr, close: func() error {
		zr.Close()
		return rc.Close()
	}}, nil
}

// ReadAll loads a whole stored file, decompressed.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := Open(ctx, s, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

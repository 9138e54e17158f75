package store

import (
	"context"
	"io"
	"sync"

	"github.com/grailbio/base/file"
)

// FileStore is a Store backed by github.com/grailbio/base/file, the same
// file abstraction the teacher codebase uses for both local paths and
// object-store URLs (e.g. s3://...). It is the production on-disk/remote
// backend for the pipeline.
type FileStore struct {
	id   string
	path string
}

// NewFileStore returns a Store reading path, identified by id in
// diagnostics (typically the path itself).
func NewFileStore(id, path string) *FileStore {
	if id == "" {
		id = path
	}
	return &FileStore{id: id, path: path}
}

// ID implements Store.
func (f *FileStore) ID() string { return f.id }

// Open implements Store.
func (f *FileStore) Open(ctx context.Context) (Stream, error) {
	cctx, cancel := context.WithCancel(ctx)
	h, err := file.Open(cctx, f.path)
	if err != nil {
		cancel()
		return nil, err
	}
	return &fileStream{ctx: cctx, cancel: cancel, h: h, r: h.Reader(cctx)}, nil
}

type fileStream struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	h      file.File
	r      io.Reader
}

func (s *fileStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.h.Close(s.ctx)
	s.cancel()
	return err
}

func (s *fileStream) CancelPending() {
	s.cancel()
}

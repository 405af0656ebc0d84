package remotesync

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Transfer directions used in logs and metrics.
const (
	directionDownload = "download"
	directionUpload   = "upload"
	directionDelete   = "delete"
)

var errStoreAborted = errors.New("store aborted")

// Download copies remoteRel from the remote root to localRel under the local
// root, creating missing local parent directories and overwriting any
// existing file.
func (s *Session) Download(ctx context.Context, remoteRel, localRel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, srcPath, err := s.targetLocked(ctx, directionDownload, Remote, remoteRel)
	if err != nil {
		return err
	}
	dst, dstPath, err := s.targetLocked(ctx, directionDownload, Local, localRel)
	if err != nil {
		return err
	}

	n, err := copyFile(ctx, src, srcPath, dst, dstPath, filepath.Dir(dstPath))
	s.metrics.recordTransfer(directionDownload, s.backend.Protocol(), n, err)
	if err != nil {
		return transferError(directionDownload, srcPath, err)
	}

	s.logger.Debug("downloaded file",
		zap.String("remote", srcPath), zap.String("local", dstPath), zap.Int64("bytes", n))
	return nil
}

// Upload copies localRel from the local root to remoteRel under the remote
// root, creating missing remote parent directories and overwriting any
// existing file.
func (s *Session) Upload(ctx context.Context, localRel, remoteRel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, srcPath, err := s.targetLocked(ctx, directionUpload, Local, localRel)
	if err != nil {
		return err
	}
	dst, dstPath, err := s.targetLocked(ctx, directionUpload, Remote, remoteRel)
	if err != nil {
		return err
	}

	n, err := copyFile(ctx, src, srcPath, dst, dstPath, remoteParent(dstPath))
	s.metrics.recordTransfer(directionUpload, s.backend.Protocol(), n, err)
	if err != nil {
		return transferError(directionUpload, srcPath, err)
	}

	s.logger.Debug("uploaded file",
		zap.String("local", srcPath), zap.String("remote", dstPath), zap.Int64("bytes", n))
	return nil
}

// Delete removes rel on source. A missing file is ErrNotFound; any other
// backend failure is ErrDelete.
func (s *Session) Delete(ctx context.Context, source Source, rel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fsys, name, err := s.targetLocked(ctx, directionDelete, source, rel)
	if err != nil {
		return err
	}

	err = fsys.Remove(ctx, name)
	s.metrics.recordTransfer(directionDelete, s.backend.Protocol(), 0, err)
	switch {
	case err == nil:
		s.logger.Debug("deleted file", zap.Stringer("source", source), zap.String("path", name))
		return nil
	case isNotExist(err):
		return opError(directionDelete, name, ErrNotFound, err)
	default:
		return opError(directionDelete, name, ErrDelete, err)
	}
}

// copyFile streams srcPath into dstPath after creating dstDir. The source is
// stated first so that a missing source never leaves an empty destination.
func copyFile(ctx context.Context, src FileSystem, srcPath string, dst FileSystem, dstPath, dstDir string) (int64, error) {
	if _, err := src.Stat(ctx, srcPath); err != nil {
		return 0, err
	}
	if err := dst.MkdirAll(ctx, dstDir); err != nil {
		return 0, err
	}

	pr, pw := io.Pipe()
	counter := &countingWriter{w: pw}
	done := make(chan error, 1)
	go func() {
		err := src.Retrieve(ctx, srcPath, counter)
		pw.CloseWithError(err)
		done <- err
	}()

	storeErr := dst.Store(ctx, dstPath, pr)
	// Unblock the reader side if Store stopped early.
	pr.CloseWithError(errStoreAborted)
	retrieveErr := <-done

	if retrieveErr != nil && !errors.Is(retrieveErr, errStoreAborted) {
		return 0, retrieveErr
	}
	if storeErr != nil {
		return 0, storeErr
	}
	return counter.n, nil
}

func transferError(op, target string, err error) error {
	if isNotExist(err) {
		return opError(op, target, ErrNotFound, err)
	}
	return opError(op, target, ErrTransfer, err)
}

// remoteParent returns the directory part of a resolved remote path without
// collapsing the "//" of stream-style paths.
func remoteParent(name string) string {
	i := strings.LastIndex(name, "/")
	if i <= 0 {
		return "/"
	}
	return name[:i]
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

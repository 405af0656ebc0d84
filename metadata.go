package remotesync

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary.
	"encoding/hex"
	"time"
)

// FileMetadata describes one relative path on one side.
type FileMetadata struct {
	Path        string
	Source      Source
	Exists      bool
	Size        int64
	ModifiedAt  time.Time
	Fingerprint []byte
}

// FingerprintString returns the fingerprint as lower-case hex, or "" when
// the file does not exist.
func (m FileMetadata) FingerprintString() string {
	if len(m.Fingerprint) == 0 {
		return ""
	}
	return hex.EncodeToString(m.Fingerprint)
}

// Exists reports whether rel exists on source. Absence is not an error.
func (s *Session) Exists(ctx context.Context, source Source, rel string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fsys, name, err := s.targetLocked(ctx, "exists", source, rel)
	if err != nil {
		return false, err
	}

	if _, err := fsys.Stat(ctx, name); err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, opError("exists", name, ErrTransfer, err)
	}
	return true, nil
}

// Fingerprint returns the MD5 digest of rel's content on source. The
// content is streamed, never held in memory. A missing file is ErrNotFound.
func (s *Session) Fingerprint(ctx context.Context, source Source, rel string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fsys, name, err := s.targetLocked(ctx, "fingerprint", source, rel)
	if err != nil {
		return nil, err
	}
	return fingerprint(ctx, fsys, name)
}

// FingerprintString is Fingerprint encoded as lower-case hex.
func (s *Session) FingerprintString(ctx context.Context, source Source, rel string) (string, error) {
	sum, err := s.Fingerprint(ctx, source, rel)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func fingerprint(ctx context.Context, fsys FileSystem, name string) ([]byte, error) {
	h := md5.New() //nolint:gosec // see import.
	if err := fsys.Retrieve(ctx, name, h); err != nil {
		if isNotExist(err) {
			return nil, opError("fingerprint", name, ErrNotFound, err)
		}
		return nil, opError("fingerprint", name, ErrTransfer, err)
	}
	return h.Sum(nil), nil
}

// ModifiedAt returns rel's modification time on source. It returns the zero
// time, and no error, when rel does not exist or the backend reports none.
func (s *Session) ModifiedAt(ctx context.Context, source Source, rel string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fsys, name, err := s.targetLocked(ctx, "modified", source, rel)
	if err != nil {
		return time.Time{}, err
	}

	entry, err := fsys.Stat(ctx, name)
	if err != nil {
		if isNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, opError("modified", name, ErrTransfer, err)
	}
	return entry.ModTime, nil
}

// FormatModifiedAt formats rel's modification time with layout, or with
// DefaultTimeLayout when layout is empty. It returns "" when rel does not
// exist.
func (s *Session) FormatModifiedAt(ctx context.Context, source Source, rel, layout string) (string, error) {
	modified, err := s.ModifiedAt(ctx, source, rel)
	if err != nil || modified.IsZero() {
		return "", err
	}
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return modified.Format(layout), nil
}

// Metadata gathers existence, size, modification time and fingerprint of
// rel on source in one locked pass.
func (s *Session) Metadata(ctx context.Context, source Source, rel string) (FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := FileMetadata{Path: rel, Source: source}

	fsys, name, err := s.targetLocked(ctx, "metadata", source, rel)
	if err != nil {
		return meta, err
	}

	entry, err := fsys.Stat(ctx, name)
	if err != nil {
		if isNotExist(err) {
			return meta, nil
		}
		return meta, opError("metadata", name, ErrTransfer, err)
	}

	meta.Exists = true
	meta.Size = entry.Size
	meta.ModifiedAt = entry.ModTime
	if entry.IsDir {
		return meta, nil
	}

	sum, err := fingerprint(ctx, fsys, name)
	if err != nil {
		return meta, err
	}
	meta.Fingerprint = sum
	return meta, nil
}

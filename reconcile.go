package remotesync

import (
	"bytes"
	"context"
	"fmt"
)

// Status classifies one relative path after comparing both sides.
type Status int

const (
	// StatusMissing means the path exists on neither side.
	StatusMissing Status = iota
	// StatusLocalOnly means the path exists only locally.
	StatusLocalOnly
	// StatusRemoteOnly means the path exists only remotely.
	StatusRemoteOnly
	// StatusIdentical means both sides hold the same content.
	StatusIdentical
	// StatusModified means both sides exist with different content.
	StatusModified
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusLocalOnly:
		return "local-only"
	case StatusRemoteOnly:
		return "remote-only"
	case StatusIdentical:
		return "identical"
	case StatusModified:
		return "modified"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Comparison is the local and remote metadata of one relative path.
type Comparison struct {
	Path   string
	Local  FileMetadata
	Remote FileMetadata
}

// Status classifies the comparison. Content equality is decided by
// fingerprint alone.
func (c Comparison) Status() Status {
	switch {
	case !c.Local.Exists && !c.Remote.Exists:
		return StatusMissing
	case !c.Remote.Exists:
		return StatusLocalOnly
	case !c.Local.Exists:
		return StatusRemoteOnly
	case bytes.Equal(c.Local.Fingerprint, c.Remote.Fingerprint):
		return StatusIdentical
	default:
		return StatusModified
	}
}

// Newer returns the side with the later modification time. It returns 0,
// not a valid Source, when either side is missing, lacks a timestamp, or
// both times are equal.
func (c Comparison) Newer() Source {
	if !c.Local.Exists || !c.Remote.Exists || c.Local.ModifiedAt.IsZero() || c.Remote.ModifiedAt.IsZero() {
		return 0
	}
	switch {
	case c.Local.ModifiedAt.After(c.Remote.ModifiedAt):
		return Local
	case c.Remote.ModifiedAt.After(c.Local.ModifiedAt):
		return Remote
	default:
		return 0
	}
}

// Compare gathers the metadata of rel on both sides.
func (s *Session) Compare(ctx context.Context, rel string) (Comparison, error) {
	local, err := s.Metadata(ctx, Local, rel)
	if err != nil {
		return Comparison{}, err
	}
	remote, err := s.Metadata(ctx, Remote, rel)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{Path: rel, Local: local, Remote: remote}, nil
}

// Reconcile compares every file of the merged listing, in merge order.
func (s *Session) Reconcile(ctx context.Context) ([]Comparison, error) {
	files, err := s.Files(ctx)
	if err != nil {
		return nil, err
	}

	comparisons := make([]Comparison, 0, len(files))
	for _, rel := range files {
		c, err := s.Compare(ctx, rel)
		if err != nil {
			return nil, err
		}
		comparisons = append(comparisons, c)
	}
	return comparisons, nil
}

package remotesync

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ListOptions controls a recursive listing.
type ListOptions struct {
	// Exclude holds glob patterns matched against each entry's name, its
	// relative path and every segment of that path.
	Exclude []string

	// MaxDepth bounds recursion below the root (default 64).
	MaxDepth int

	// Separator joins directory and entry names on the listed filesystem
	// (default "/").
	Separator string
}

// ListTree returns the relative paths of all regular files under root,
// recursing into sub-directories. Relative paths always use forward
// slashes. Entries whose name begins with "." or "~" are skipped with their
// whole subtree. A missing root, or a root that is not a directory, yields
// an empty listing.
//
// Each level is reported in name order, with a directory's files appearing
// where the directory sorts among its siblings.
func ListTree(ctx context.Context, fsys FileSystem, root string, opts ListOptions) ([]string, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Separator == "" {
		opts.Separator = "/"
	}

	files := []string{}

	entry, err := fsys.Stat(ctx, root)
	if err != nil {
		if isNotExist(err) {
			return files, nil
		}
		return nil, err
	}
	if !entry.IsDir {
		return files, nil
	}

	w := walker{ctx: ctx, fsys: fsys, opts: opts}
	if err := w.walk(root, "", 0, &files); err != nil {
		return nil, err
	}
	return files, nil
}

type walker struct {
	ctx  context.Context
	fsys FileSystem
	opts ListOptions
}

func (w walker) walk(dir, prefix string, depth int, files *[]string) error {
	if depth > w.opts.MaxDepth {
		return fmt.Errorf("%w: %s", ErrMaxDepth, dir)
	}

	entries, err := w.fsys.ReadDir(w.ctx, dir)
	if err != nil {
		// A directory removed while we were walking is simply gone.
		if isNotExist(err) {
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	for _, entry := range entries {
		if isHidden(entry.Name) {
			continue
		}
		rel := prefix + entry.Name
		if shouldExclude(rel, w.opts.Exclude) {
			continue
		}

		if entry.IsDir {
			child := strings.TrimRight(dir, w.opts.Separator) + w.opts.Separator + entry.Name
			if err := w.walk(child, rel+"/", depth+1, files); err != nil {
				return err
			}
			continue
		}
		*files = append(*files, rel)
	}
	return nil
}

func isHidden(name string) bool {
	return name == "" || name[0] == '.' || name[0] == '~'
}

// shouldExclude matches rel, a slash-separated relative path, against the
// patterns.
func shouldExclude(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	parts := strings.Split(rel, "/")
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, parts[len(parts)-1]); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		for _, part := range parts {
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}

// List returns every regular file under source's root as a relative,
// slash-separated path. Remote listings authenticate first.
func (s *Session) List(ctx context.Context, source Source) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fsys, root, err := s.targetLocked(ctx, "list", source, "")
	if err != nil {
		return nil, err
	}

	separator := "/"
	if source == Local {
		separator = string(filepath.Separator)
	}

	files, err := ListTree(ctx, fsys, root, ListOptions{
		Exclude:   s.cfg.Exclude,
		MaxDepth:  s.cfg.MaxDepth,
		Separator: separator,
	})
	if err != nil {
		return nil, opError("list", root, ErrTransfer, err)
	}

	s.metrics.recordListing(source, len(files))
	return files, nil
}

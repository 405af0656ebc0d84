package remotesync

import (
	"path"
	"path/filepath"
	"strings"
)

// Resolver builds absolute addressable paths for (Source, relative path)
// pairs. It holds no per-call state.
type Resolver struct {
	localRoot  string
	remoteRoot string
	remote     func(root, token, rel string) string
}

// NewResolver returns a Resolver for the given roots. remote builds remote
// paths, normally Backend.RemotePath; nil means plain slash joining.
func NewResolver(localRoot, remoteRoot string, remote func(root, token, rel string) string) Resolver {
	if remote == nil {
		remote = JoinRemote
	}
	root := filepath.FromSlash(localRoot)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return Resolver{
		localRoot:  filepath.Clean(root),
		remoteRoot: CleanRemote(remoteRoot),
		remote:     remote,
	}
}

// Resolve returns the absolute path of rel on source. token is the
// authenticated session token; it only matters for stream-style remotes.
// No existence check is performed. A rel whose ".." segments climb above
// the root is rejected with ErrOutsideRoot.
func (r Resolver) Resolve(source Source, token, rel string) (string, error) {
	if source.Valid() && escapesRoot(rel) {
		return "", opError("resolve", rel, ErrInvalidSource, ErrOutsideRoot)
	}
	switch source {
	case Local:
		return r.Local(rel), nil
	case Remote:
		return r.remote(r.remoteRoot, token, rel), nil
	default:
		return "", opError("resolve", rel, ErrInvalidSource, nil)
	}
}

// Local joins rel onto the local root with filesystem-native separators.
// A path already under the local root resolves to itself.
func (r Resolver) Local(rel string) string {
	native := filepath.FromSlash(rel)
	if filepath.IsAbs(native) && withinRoot(filepath.Clean(native), r.localRoot, string(filepath.Separator)) {
		return filepath.Clean(native)
	}
	return filepath.Join(r.localRoot, native)
}

// Root returns the resolved root directory of source.
func (r Resolver) Root(source Source, token string) (string, error) {
	return r.Resolve(source, token, "")
}

// CleanRemote normalises a remote directory to a single leading slash and
// no trailing slash.
func CleanRemote(dir string) string {
	return path.Clean("/" + strings.Trim(filepath.ToSlash(dir), "/"))
}

// JoinRemote joins rel onto root with forward slashes. A path already under
// root resolves to itself. The token is ignored.
func JoinRemote(root, _ string, rel string) string {
	root = CleanRemote(root)
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "/") {
		cleaned := path.Clean(rel)
		if withinRoot(cleaned, root, "/") {
			return cleaned
		}
	}
	return path.Join(root, strings.Trim(rel, "/"))
}

// escapesRoot reports whether the ".." segments of rel climb above the
// directory it is joined onto.
func escapesRoot(rel string) bool {
	depth := 0
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		switch segment {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

func withinRoot(p, root, sep string) bool {
	if p == root {
		return true
	}
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(p, root)
}

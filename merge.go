package remotesync

import "context"

// Merge returns the union of local and remote: every local path in order,
// then every remote path not already present, in order. Duplicates within
// either input are dropped as well.
func Merge(local, remote []string) []string {
	seen := make(map[string]struct{}, len(local)+len(remote))
	merged := make([]string, 0, len(local)+len(remote))

	for _, list := range [][]string{local, remote} {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	return merged
}

// Files lists both sides and merges them, local first.
func (s *Session) Files(ctx context.Context) ([]string, error) {
	local, err := s.List(ctx, Local)
	if err != nil {
		return nil, err
	}
	remote, err := s.List(ctx, Remote)
	if err != nil {
		return nil, err
	}
	return Merge(local, remote), nil
}

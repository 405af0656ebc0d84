// Package remotesync keeps a local directory tree and a remote one within
// reach of the same operations, over FTP or SFTP.
//
// A Session owns one remote connection. It resolves relative paths against
// the configured local and remote roots, lists both trees, merges the
// listings, compares files by MD5 fingerprint and modification time, and
// moves single files in either direction.
//
// # Basic Usage
//
// Open a session and mirror one file:
//
//	cfg := remotesync.Config{
//		Protocol:   remotesync.ProtocolSFTP,
//		Host:       "example.com",
//		User:       "deploy",
//		KeyPath:    "~/.ssh/id_ed25519",
//		LocalRoot:  "/srv/site",
//		RemoteRoot: "/var/www",
//	}
//
//	err := remotesync.WithSession(ctx, cfg, func(ctx context.Context, s *remotesync.Session) error {
//		return s.Upload(ctx, "index.html", "index.html")
//	})
//
// Remote operations authenticate on first use; Connect and Authenticate
// may also be called explicitly. A failed connection or login closes the
// Session for good, so build a new one to retry.
//
// # Reconciling Trees
//
// Files lists both sides and returns their ordered union. Reconcile
// classifies every path:
//
//	comparisons, err := s.Reconcile(ctx)
//	for _, c := range comparisons {
//		switch c.Status() {
//		case remotesync.StatusLocalOnly:
//			err = s.Upload(ctx, c.Path, c.Path)
//		case remotesync.StatusRemoteOnly:
//			err = s.Download(ctx, c.Path, c.Path)
//		}
//	}
//
// # Session Pooling
//
// A Session runs one transport command at a time. For concurrent work,
// lease one Session per goroutine from a Pool:
//
//	pool := remotesync.NewPool(5*time.Minute, remotesync.WithLogger(logger))
//	defer pool.Close()
//
//	s, err := pool.Acquire(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Release(s)
//
// # Errors
//
// Every error a Session returns matches one kind with errors.Is:
// ErrConnection, ErrAuthentication, ErrInvalidSource, ErrNotFound,
// ErrTransfer, ErrDelete or ErrInvalidConfig. The *OpError carries the
// operation, its target and the underlying cause.
package remotesync

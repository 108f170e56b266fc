// Package storage provides the durable key/value storage that backs the
// storefront session.
//
// A browser keeps the session in origin-scoped local storage that survives
// page reloads. The Go client keeps it in a Storage backend that survives
// process restarts:
//
// Memory Backend:
//   - Process-local, lost on exit
//   - Used by tests and by the "memory" provider
//
// File Backend:
//   - Single JSON document on an afero filesystem
//   - Writes go to a temporary file that is renamed over the original, so a
//     reader never sees half of a multi-key write
//   - Default provider for the command-line client
//
// Redis Backend (Shared):
//   - Keys live under a namespace ("storefront:session" by default)
//   - Multi-key writes run in a MULTI/EXEC transaction
//
// All backends implement the same interface:
//
//	type Storage interface {
//	    Get(ctx context.Context, key string) (string, error)
//	    SetMany(ctx context.Context, values map[string]string) error
//	    Delete(ctx context.Context, keys ...string) error
//	    Close() error
//	}
//
// Get returns ErrNotFound for keys that were never written or were deleted.
package storage

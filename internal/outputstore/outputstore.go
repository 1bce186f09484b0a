// Package outputstore implements the server's output file backend: where
// a received product's body lands on disk once the worker has finished
// streaming it in, and what happens to it afterward. Grounded on
// saver.runMarshaller's open/write/close-with-recovery shape, generalized
// to the fuller ENOENT/ENOTDIR/EISDIR/EEXIST/ENOSPC recovery ladder of
// spec.md §4.8.
package outputstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/noaa-ldm/prodxfer/internal/product"
)

// Outcome is the disposition a Finalize call reports back to the worker,
// which maps directly to the ack code it sends.
type Outcome int

const (
	// OutcomeOK means the product is durably stored; worker sends K.
	OutcomeOK Outcome = iota
	// OutcomeRetry means a transient failure; worker sends R.
	OutcomeRetry
	// OutcomeFail means a permanent failure; worker sends F.
	OutcomeFail
)

// Store is the interface the worker's receive loop drives. Implementations
// decide where a product's body lands, whether to keep it, and how to
// expose it to consumers once it's complete.
type Store interface {
	// BuildPath returns the path the product's body should be streamed
	// to.
	BuildPath(p *product.Product) (string, error)
	// Finalize is called once the body has been fully written and
	// closed; it may rename, chmod, or symlink the file into place.
	Finalize(p *product.Product, path string) (Outcome, error)
	// Abort is called when the body could not be fully written; path
	// may already have been removed by the caller.
	Abort(p *product.Product, path string)
}

// Recovery budgets the open-with-recovery ladder of spec.md §4.8 step 4.
// Every "retry once" step in the spec is one extra os.OpenFile attempt
// after corrective action.
type openStep int

const (
	stepCreate openStep = iota
	stepMkdir
	stepUnlinkNonDir
	stepRmdir
	stepWaitSpace
)

// OpenRecoveryBudget is how many short waits OpenWithRecovery makes on an
// ENOSPC/EEXIST-style transient condition; every wait after those is long,
// per spec.md §4.8. The budget does not end the waiting: only shouldStop
// does.
const OpenRecoveryBudget = 3

const (
	shortWait = 3 * time.Second
	longWait  = 30 * time.Second
)

// OpenWithRecovery opens path for exclusive creation (or plain creation,
// if overwrite is true), recovering from the conditions spec.md §4.8 names:
// a missing parent directory is created and the open retried once; a path
// component that is a stale regular file (ENOTDIR) is unlinked and the
// open retried once; a path that is itself a directory (EISDIR) is removed
// and the open retried once; ENOSPC or, in non-overwrite mode, EEXIST are
// waited out with the spec's escalating sleep schedule until shouldStop
// returns true. With a nil shouldStop those conditions are waited out
// indefinitely.
func OpenWithRecovery(path string, overwrite bool, shouldStop func() bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	attempts := map[openStep]bool{}
	waits := 0
	for {
		f, err := os.OpenFile(path, flags, 0o644)
		if err == nil {
			return f, nil
		}

		switch {
		case errors.Is(err, fs.ErrNotExist) && !attempts[stepMkdir]:
			attempts[stepMkdir] = true
			if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
				return nil, fmt.Errorf("outputstore: mkdir parent of %s: %w", path, mkErr)
			}
		case isNotDirError(err) && !attempts[stepUnlinkNonDir]:
			attempts[stepUnlinkNonDir] = true
			if rmErr := os.Remove(offendingComponent(path)); rmErr != nil {
				return nil, fmt.Errorf("outputstore: unlink non-directory ancestor of %s: %w", path, rmErr)
			}
		case isDirError(err) && !attempts[stepRmdir]:
			attempts[stepRmdir] = true
			if rmErr := os.Remove(path); rmErr != nil {
				return nil, fmt.Errorf("outputstore: rmdir %s: %w", path, rmErr)
			}
		case errors.Is(err, fs.ErrExist) || isNoSpaceError(err):
			if shouldStop != nil && shouldStop() {
				return nil, fmt.Errorf("outputstore: giving up opening %s during shutdown: %w", path, err)
			}
			wait := shortWait
			if waits >= OpenRecoveryBudget {
				wait = longWait
			}
			waits++
			time.Sleep(wait)
		default:
			return nil, fmt.Errorf("outputstore: open %s: %w", path, err)
		}
	}
}

// offendingComponent walks path's ancestors to find the first one that
// exists as a non-directory, which is what ENOTDIR actually names.
func offendingComponent(path string) string {
	dir := filepath.Dir(path)
	for dir != "." && dir != string(filepath.Separator) {
		fi, err := os.Lstat(dir)
		if err == nil && !fi.IsDir() {
			return dir
		}
		next := filepath.Dir(dir)
		if next == dir {
			break
		}
		dir = next
	}
	return dir
}

// StreamBody copies exactly n bytes from r to w in blocks no larger than
// bufSize, the worker's per-block write loop (spec.md §4.8 step 5). If r
// ends before n bytes it returns io.ErrUnexpectedEOF. StreamBody does not
// touch deadlines: a socket-read deadline the caller set before the call
// covers the whole copy and is not re-armed between blocks.
func StreamBody(w io.Writer, r io.Reader, n int64, bufSize int) error {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	buf := make([]byte, bufSize)
	written, err := io.CopyBuffer(w, io.LimitReader(r, n), buf)
	if err == nil && written < n {
		err = io.ErrUnexpectedEOF
	}
	return err
}

//go:build !wmotable

package outputstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/noaa-ldm/prodxfer/internal/product"
)

// DefaultStore is the non-wmotable backend: filenames are
// <outdir>/<5-digit worker tag>-<seqno mod 1e6, 6 digits>, a flat
// namespace with no routing, grounded on saver.runMarshaller's trivial
// store/close shape.
type DefaultStore struct {
	OutDir     string
	WorkerTag  int // printed zero-padded to 5 digits
	Overwrite  bool
	PublicMode os.FileMode // 0 disables the chmod step
}

func (s *DefaultStore) BuildPath(p *product.Product) (string, error) {
	name := fmt.Sprintf("%05d-%06d", s.WorkerTag%100000, p.Seqno%1000000)
	return filepath.Join(s.OutDir, name), nil
}

func (s *DefaultStore) Finalize(p *product.Product, path string) (Outcome, error) {
	if s.PublicMode != 0 {
		if err := os.Chmod(path, s.PublicMode); err != nil {
			return OutcomeRetry, fmt.Errorf("outputstore: chmod %s: %w", path, err)
		}
	}
	return OutcomeOK, nil
}

func (s *DefaultStore) Abort(p *product.Product, path string) {
	os.Remove(path)
}

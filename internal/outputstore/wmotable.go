//go:build wmotable

package outputstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/noaa-ldm/prodxfer/internal/product"
	"gopkg.in/ini.v1"
)

// Route is one routing-table entry: where a product matching a
// TTAAII/CCCC/NNNXXX key gets stored, and which base directories should
// receive a symlink to it once it lands.
type Route struct {
	StorageDir string
	LinkDirs   []string
}

// RouteTable replaces the original's shared-memory routing table
// (serv_symlink.c, serv_store.c) with an in-process, RWMutex-guarded map
// loaded once at startup — a Go server process has no reason to reach for
// real SysV shared memory for data private to itself.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// LoadRouteTable reads a "[routes]"-sectioned ini file, one key per
// TTAAII/CCCC/NNNXXX pattern, value "storage_dir;link_dir1,link_dir2,...".
func LoadRouteTable(path string) (*RouteTable, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("outputstore: load route table %s: %w", path, err)
	}
	sec := cfg.Section("routes")
	rt := &RouteTable{routes: make(map[string]Route, len(sec.Keys()))}
	for _, key := range sec.Keys() {
		// value shape: "storage_dir;link_dir1,link_dir2,..."
		storageDir, linkList, _ := strings.Cut(key.Value(), ";")
		if storageDir == "" {
			continue
		}
		var linkDirs []string
		for _, d := range strings.Split(linkList, ",") {
			if d = strings.TrimSpace(d); d != "" {
				linkDirs = append(linkDirs, d)
			}
		}
		rt.routes[key.Name()] = Route{StorageDir: storageDir, LinkDirs: linkDirs}
	}
	return rt, nil
}

func (rt *RouteTable) lookup(key string) (Route, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	r, ok := rt.routes[key]
	return r, ok
}

// WMOTableStore routes products by TTAAII/CCCC/NNNXXX and, on successful
// store, creates a symlink from each configured base directory to the
// stored file, replacing the original's shared-memory routing table plus
// hard symlinks with an equivalent in-process map plus os.Symlink.
type WMOTableStore struct {
	Routes     *RouteTable
	WorkerTag  int
	PublicMode os.FileMode
}

func (s *WMOTableStore) routeKey(p *product.Product) string {
	return fmt.Sprintf("%s/%s/%s", p.WMO.TTAAII, p.WMO.CCCC, p.WMO.NNNXXX)
}

func (s *WMOTableStore) BuildPath(p *product.Product) (string, error) {
	route, ok := s.Routes.lookup(s.routeKey(p))
	if !ok {
		return "", fmt.Errorf("outputstore: no route for %s", s.routeKey(p))
	}
	name := fmt.Sprintf("%05d-%06d", s.WorkerTag%100000, p.Seqno%1000000)
	return filepath.Join(route.StorageDir, name), nil
}

func (s *WMOTableStore) Finalize(p *product.Product, path string) (Outcome, error) {
	if s.PublicMode != 0 {
		if err := os.Chmod(path, s.PublicMode); err != nil {
			return OutcomeRetry, fmt.Errorf("outputstore: chmod %s: %w", path, err)
		}
	}
	route, ok := s.Routes.lookup(s.routeKey(p))
	if !ok {
		return OutcomeFail, fmt.Errorf("outputstore: route vanished for %s", s.routeKey(p))
	}
	for _, linkDir := range route.LinkDirs {
		link := filepath.Join(linkDir, filepath.Base(path))
		os.Remove(link) // clear any stale link from a prior product at this name
		if err := os.Symlink(path, link); err != nil {
			return OutcomeRetry, fmt.Errorf("outputstore: symlink %s -> %s: %w", link, path, err)
		}
	}
	return OutcomeOK, nil
}

func (s *WMOTableStore) Abort(p *product.Product, path string) {
	os.Remove(path)
}

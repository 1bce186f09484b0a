// Package archive rotates and compresses product-log files, per spec.md
// §6's "LOG_RETENTION=archive" environment variable. Grounded on
// zstd/zstd.go's NewWriter: a WriteCloser that pipes writes through a
// compressor and waits for it to finish on Close. The default compressor
// is the standard library's compress/gzip rather than the teacher's
// external zstd subprocess — see DESIGN.md's Open Question decision — but
// WithExternalCompressor reproduces the teacher's exec.Command pipe shape
// exactly for operators who want an external codec.
package archive

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
)

// Compressor opens a WriteCloser that compresses everything written to it
// into dst. Close on the returned WriteCloser must fully flush the
// compressed output before returning.
type Compressor func(dst string) (io.WriteCloser, error)

// GzipCompressor is the default Compressor, using the standard library.
func GzipCompressor(dst string) (io.WriteCloser, error) {
	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dst, err)
	}
	return &gzipWriteCloser{gzip.NewWriter(f), f}, nil
}

type gzipWriteCloser struct {
	gz *gzip.Writer
	f  *os.File
}

func (w *gzipWriteCloser) Write(p []byte) (int, error) { return w.gz.Write(p) }

func (w *gzipWriteCloser) Close() error {
	if err := w.gz.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// WithExternalCompressor builds a Compressor that pipes writes through an
// external command (e.g. "zstd", "xz -z") the same way zstd.NewWriter
// pipes through the "zstd" binary: an os.Pipe, the command's stdin
// connected to the read end, its stdout to the destination file, and
// Close waiting for the subprocess to exit before returning.
func WithExternalCompressor(name string, args ...string) Compressor {
	return func(dst string) (io.WriteCloser, error) {
		f, err := os.Create(dst)
		if err != nil {
			return nil, fmt.Errorf("archive: create %s: %w", dst, err)
		}
		pipeR, pipeW, err := os.Pipe()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("archive: pipe: %w", err)
		}
		cmd := exec.Command(name, args...)
		cmd.Stdin = pipeR
		cmd.Stdout = f

		var wg sync.WaitGroup
		wg.Add(1)
		if err := cmd.Start(); err != nil {
			pipeR.Close()
			pipeW.Close()
			f.Close()
			return nil, fmt.Errorf("archive: start %s: %w", name, err)
		}
		go func() {
			if err := cmd.Wait(); err != nil {
				log.Printf("archive: %s exited with error: %v", name, err)
			}
			pipeR.Close()
			wg.Done()
		}()
		return externalWriteCloser{pipeW, f, &wg}, nil
	}
}

type externalWriteCloser struct {
	pipeW io.WriteCloser
	f     *os.File
	wg    *sync.WaitGroup
}

func (w externalWriteCloser) Write(p []byte) (int, error) { return w.pipeW.Write(p) }

func (w externalWriteCloser) Close() error {
	if err := w.pipeW.Close(); err != nil {
		return err
	}
	w.wg.Wait()
	return w.f.Close()
}

// Archiver rotates a log file into a compressed copy at a caller-chosen
// path once it reaches MaxSize. The caller sets MaxSize; this package reads
// no environment variables.
type Archiver struct {
	Compressor Compressor
	MaxSize    int64
}

// New builds an Archiver; a nil Compressor defaults to gzip.
func New(c Compressor, maxSize int64) *Archiver {
	if c == nil {
		c = GzipCompressor
	}
	return &Archiver{Compressor: c, MaxSize: maxSize}
}

// RotateIfNeeded checks path's size and, if it is at or past MaxSize,
// archives it to archivePath and truncates path back to empty, so the
// caller's open *os.File (if any) can keep writing at offset 0.
func (a *Archiver) RotateIfNeeded(path, archivePath string) (rotated bool, err error) {
	if a.MaxSize <= 0 {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("archive: stat %s: %w", path, err)
	}
	if info.Size() < a.MaxSize {
		return false, nil
	}
	if err := a.compressFile(path, archivePath); err != nil {
		return false, err
	}
	if err := os.Truncate(path, 0); err != nil {
		return false, fmt.Errorf("archive: truncate %s: %w", path, err)
	}
	return true, nil
}

func (a *Archiver) compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := a.Compressor(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("archive: compress %s: %w", src, err)
	}
	return out.Close()
}

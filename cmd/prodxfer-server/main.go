// Command prodxfer-server runs the product-transfer server of spec.md
// §4.7/§4.8: accepts connections up to a worker ceiling and writes
// received products to an output store. Grounded on the teacher's root
// main.go flag/shutdown shape, same as cmd/prodxfer-client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/noaa-ldm/prodxfer/internal/config"
	"github.com/noaa-ldm/prodxfer/internal/outputstore"
	"github.com/noaa-ldm/prodxfer/internal/pidfile"
	"github.com/noaa-ldm/prodxfer/internal/plog"
	"github.com/noaa-ldm/prodxfer/internal/server"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

const (
	exitOK        = 0
	exitBadArgs   = 1
	exitInitError = 2
	exitServeErr  = 3
	exitCloseErr  = 4
)

func main() {
	fs := flag.NewFlagSet("prodxfer-server", flag.ExitOnError)
	s := config.NewServerFlagSet(fs)
	if err := config.ParseServerFlags(fs, s, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitBadArgs)
	}
	flagx.ArgsFromEnv(fs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	promSrv := prometheusx.MustStartPrometheus(s.PromAddr)
	defer promSrv.Shutdown(ctx)

	rtx.Must(os.MkdirAll(s.OutDir, 0o755), "could not create output directory %s", s.OutDir)

	pidPath := pidfile.Resolve(pidfile.ServerPath("prodxfer-server", s.Port))
	pf, err := pidfile.Write(pidPath)
	rtx.Must(err, "could not write pid file %s", pidPath)
	defer pf.Remove()

	var plogLogger *plog.Log
	if s.LogDir != "" {
		f, err := os.OpenFile(s.LogDir+"/server.log", os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		rtx.Must(err, "could not open product log in %s", s.LogDir)
		defer f.Close()
		plogLogger = plog.New(log.New(f, "", log.LstdFlags), s.SourceTag)
	}

	var publicMode os.FileMode
	if s.TogglePerms {
		publicMode = 0o644
	}
	store := &outputstore.DefaultStore{
		OutDir:     s.OutDir,
		WorkerTag:  s.Port % 100000,
		Overwrite:  s.Overwrite,
		PublicMode: publicMode,
	}

	d := server.NewDispatcher(server.Config{
		MaxWorkers:         s.MaxWorkers,
		BufSize:            s.BufSize,
		ConnMessageHeading: s.ConnWMO,
		Overwrite:          s.Overwrite,
		Store:              store,
		ProductLog:         plogLogger,
		SourceTag:          s.SourceTag,
		Logger:             log.Default(),
	})
	rtx.Must(d.Listen(s.Addr()), "could not listen on %s", s.Addr())

	if plogLogger != nil {
		plogLogger.Start(os.Getpid(), os.Args)
	}

	runErr := d.Serve(ctx)

	code := exitOK
	if runErr != nil && ctx.Err() == nil {
		code = exitServeErr
	}
	if plogLogger != nil {
		plogLogger.Exit(code)
	}
	os.Exit(code)
}

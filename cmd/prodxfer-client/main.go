// Command prodxfer-client runs the product-transfer client send loop of
// spec.md §4.3: polls an input spool and streams products to a server
// with automatic host failover, ack/retry handling, and disposition to
// sent/fail directories. Grounded on the teacher's root main.go: a flat
// flag.Var block, flagx.ArgsFromEnv, rtx.Must for fatal init errors, and a
// prometheusx metrics server alongside the main loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/noaa-ldm/prodxfer/internal/archive"
	"github.com/noaa-ldm/prodxfer/internal/client"
	"github.com/noaa-ldm/prodxfer/internal/config"
	"github.com/noaa-ldm/prodxfer/internal/disposition"
	"github.com/noaa-ldm/prodxfer/internal/pidfile"
	"github.com/noaa-ldm/prodxfer/internal/plog"
	"github.com/noaa-ldm/prodxfer/internal/ptable"
	"github.com/noaa-ldm/prodxfer/internal/queue"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// Exit codes per spec.md §6: 0 normal, 1 bad args, 2 init error, 3
// send-loop failure, 4 close error; 3 and 4 are additive.
const (
	exitOK        = 0
	exitBadArgs   = 1
	exitInitError = 2
	exitSendLoop  = 3
	exitCloseErr  = 4
)

func main() {
	fs := flag.NewFlagSet("prodxfer-client", flag.ExitOnError)
	c := config.NewClientFlagSet(fs)
	if err := config.ParseClientFlags(fs, c, os.Args[1:]); err != nil {
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

	promSrv := prometheusx.MustStartPrometheus(c.PromAddr)
	defer promSrv.Shutdown(ctx)

	ttl, err := c.TTLDuration()
	rtx.Must(err, "bad -l ttl value")

	if len(c.InDirs) == 0 {
		c.InDirs = append(c.InDirs, "input")
	}

	sentRing, err := disposition.NewRing(c.SentDir, c.SentCount)
	rtx.Must(err, "could not open sent directory %s", c.SentDir)
	failRing, err := disposition.NewRing(c.FailDir, c.FailCount)
	rtx.Must(err, "could not open fail directory %s", c.FailDir)

	pidPath := pidfile.Resolve(pidfile.ClientPath("prodxfer-client", hostTag(c), c.Port))
	pf, err := pidfile.Write(pidPath)
	rtx.Must(err, "could not write pid file %s", pidPath)
	defer pf.Remove()

	var plogLogger *plog.Log
	if c.LogDir != "" {
		f, err := os.OpenFile(c.LogDir+"/client.log", os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		rtx.Must(err, "could not open product log in %s", c.LogDir)
		defer f.Close()
		plogLogger = plog.New(log.New(f, "", log.LstdFlags), c.SourceID)
		if c.ArchiveLogs {
			arch := archive.New(nil, 100*1024*1024)
			go archiveLoop(ctx, arch, c.LogDir+"/client.log", c.LogDir+"/client.log")
		}
	}

	poller := &queue.Poller{
		Dirs:            c.InDirs,
		RefreshInterval: c.RefreshInterval,
		MaxQueueLen:     c.MaxQueueLen,
		WaitLastFile:    c.WaitLastFile,
	}
	table := ptable.New(c.AckWindow)

	var connMsg *client.ConnMessageConfig
	if c.ConnWMO != "" {
		connMsg = &client.ConnMessageConfig{Heading: c.ConnWMO, Source: c.SourceID}
	}

	eng := client.NewEngine(client.Config{
		Hosts:        c.HostPorts(),
		DialTimeout:  c.SocketTimeout,
		AckTimeout:   c.SocketTimeout,
		PollInterval: c.PollInterval,
		MaxRetry:     c.MaxRetry,
		QueueTTL:     ttl,
		BufSize:      c.BufSize,
		ConnMessage:  connMsg,
		SentDir:      sentRing,
		FailDir:      failRing,
		ProductLog:   plogLogger,
		LocalTag:     c.SourceID,
		Logger:       log.Default(),
	}, poller, table)

	if plogLogger != nil {
		plogLogger.Start(os.Getpid(), os.Args)
	}

	runErr := eng.Run(ctx)

	code := exitOK
	if runErr != nil && ctx.Err() == nil {
		code = exitSendLoop
	}
	if plogLogger != nil {
		plogLogger.Exit(code)
	}
	os.Exit(code)
}

// hostTag resolves the tag used in the client's pid-file name: the first
// configured host, or "unknown" if none is configured yet.
func hostTag(c *config.ClientFlags) string {
	if len(c.Hosts) > 0 {
		return c.Hosts[0]
	}
	return "unknown"
}

func archiveLoop(ctx context.Context, a *archive.Archiver, logPath, archiveBase string) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	gen := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rotated, err := a.RotateIfNeeded(logPath, fmt.Sprintf("%s.%d.gz", archiveBase, gen))
			if err != nil {
				log.Printf("archive: rotate %s: %v", logPath, err)
				continue
			}
			if rotated {
				gen++
			}
		}
	}
}

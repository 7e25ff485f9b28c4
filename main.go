package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	c "ovio/internal"
	"ovio/internal/asyncfile"
	"ovio/internal/bridge"
	"ovio/internal/iomgr"
	"ovio/internal/util"

	"github.com/cespare/xxhash"
	"github.com/lmittmann/tint"
	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"
)

type options struct {
	backend string
	buf     int
	direct  bool
	hash    string
	rate    int
	peek    int
}

type digest interface {
	io.Writer
	Sum64() uint64
}

func newDigest(alg string) (digest, error) {
	switch alg {
	case "none", "":
		return nil, nil
	case "xxh64":
		return xxhash.New(), nil
	case "xxh3":
		return xxh3.New(), nil
	}
	return nil, bridge.InvalidConfiguration("hash", fmt.Sprintf("unknown hash %q (none|xxh64|xxh3)", alg))
}

func main() {
	var opts options
	flag.StringVar(&opts.backend, "backend", string(iomgr.BackendAuto), "completion engine: auto|ring|iocp|pool")
	flag.IntVar(&opts.buf, "buf", c.DEFAULT_CHUNK_SIZE, "chunk buffer size in bytes")
	flag.BoolVar(&opts.direct, "direct", false, "unbuffered reads (O_DIRECT / FILE_FLAG_NO_BUFFERING); -buf must be a multiple of 4096")
	flag.StringVar(&opts.hash, "hash", "xxh3", "per-file digest: none|xxh64|xxh3")
	flag.IntVar(&opts.rate, "rate", 0, "consume at most this many bytes/s per file (0: unlimited)")
	flag.IntVar(&opts.peek, "peek", 0, "dump the first N bytes of each file (at most one chunk)")
	verbose := flag.Bool("v", false, "debug logging, one line per chunk")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] FILE...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, flag.Args()); err != nil {
		slog.Error("ovio", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, paths []string) error {
	if opts.direct && opts.buf%c.ALIGN != 0 {
		return bridge.InvalidConfiguration("main", "-direct needs -buf to be a multiple of 4096")
	}
	if _, err := newDigest(opts.hash); err != nil {
		return err
	}

	cfg := iomgr.DefaultConfig()
	cfg.Backend = iomgr.Backend(opts.backend)
	eng, err := iomgr.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Error("engine close", "err", err)
		}
	}()

	buf, err := iomgr.AllocSlab(opts.buf)
	if err != nil {
		return err
	}
	defer iomgr.DeallocSlab(buf)

	failed := 0
	for _, path := range paths {
		if err := readFile(ctx, eng, buf, path, opts); err != nil {
			failed++
			if bridge.IsCancelled(err) || ctx.Err() != nil {
				return err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func readFile(ctx context.Context, eng bridge.Engine, buf []byte, path string, opts options) error {
	mode := bridge.ModeOverlapped
	if opts.direct {
		mode |= bridge.ModeDirect
	}
	f, err := asyncfile.Open(eng, path, mode)
	if err != nil {
		slog.Error("open", "path", path, "err", err)
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("close", "path", path, "err", err)
		}
	}()

	d, _ := newDigest(opts.hash)
	var lim *rate.Limiter
	if opts.rate > 0 {
		// burst has to cover a whole chunk or WaitN refuses it
		lim = rate.NewLimiter(rate.Limit(opts.rate), max(opts.rate, len(buf)))
	}

	var off uint64
	start := time.Now()
	total, err := f.ReadAll(ctx, buf, func(chunk []byte) error {
		if off == 0 && opts.peek > 0 {
			fmt.Print(util.PrettyPrintChunk(chunk, off, opts.peek))
		}
		if d != nil {
			d.Write(chunk)
		}
		if lim != nil {
			if err := lim.WaitN(ctx, len(chunk)); err != nil {
				return err
			}
		}
		slog.Debug("chunk", "path", path, "off", off, "n", len(chunk))
		off += uint64(len(chunk))
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		slog.Error("read", "path", path, "total", total, "kind", bridge.KindOf(err), "err", err)
		return err
	}

	mibps := float64(total) / float64(c.MiB) / max(elapsed.Seconds(), 1e-9)
	slog.Info("read", "path", path, "total", total, "elapsed", elapsed, "MiB/s", fmt.Sprintf("%.1f", mibps))
	if d != nil {
		fmt.Printf("%016x  %s\n", d.Sum64(), path)
	}
	return nil
}

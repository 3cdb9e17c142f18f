package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/asheshgoplani/panedeck/internal/clock"
	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/files"
	"github.com/asheshgoplani/panedeck/internal/git"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/ptyhost"
	"github.com/asheshgoplani/panedeck/internal/web"
	"github.com/asheshgoplani/panedeck/internal/workspace"
)

const shutdownTimeout = 5 * time.Second

func handleServe(args []string) error {
	settings := config.GetWebSettings()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listenAddr := fs.String("listen", settings.ListenAddr, "Listen address for the workspace server")
	token := fs.String("token", settings.Token, "Bearer token for API/WS access")
	noPrefetch := fs.Bool("no-prefetch", false, "Disable idle prefetch of background workspaces")

	fs.Usage = func() {
		fmt.Println("Usage: panedeck serve [options]")
		fmt.Println()
		fmt.Println("Serve workspaces, panel state and terminal sockets over HTTP.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  panedeck serve")
		fmt.Println("  panedeck serve --listen 127.0.0.1:9000 --token s3cret")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("flag parsing: %w", err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	initLogging()
	defer logging.Shutdown()
	log := logging.ForComponent(logging.CompCLI)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStateDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	layouts, err := db.LoadAllLayouts(ctx)
	if err != nil {
		return err
	}

	termOpts := config.GetTerminalOptions()
	prefetchOpts := config.GetPrefetchOptions()
	if *noPrefetch {
		prefetchOpts.Enabled = false
	}

	clk := clock.Real()
	fsys := files.New(termOpts.ImageDir)
	cache := workspace.NewCache(git.CLI{}, fsys, clk, prefetchOpts.StaleAfter)
	manager := workspace.NewManager(workspace.Deps{
		Persistence: db,
		Badges:      db,
		Cache:       cache,
		Clock:       clk,
		Layout:      config.GetLayoutOptions(),
	}, layouts)
	defer manager.CloseAll()

	prefetcher := workspace.NewPrefetcher(cache, manager, prefetchOpts)
	defer prefetcher.Close()
	manager.AttachPrefetcher(prefetcher)
	go func() {
		if err := prefetcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("prefetch_stopped", slog.String("error", err.Error()))
		}
	}()

	host := ptyhost.New(ptyhost.Options{
		Shell:               termOpts.Shell,
		DetachedBufferBytes: termOpts.DetachedBufferBytes,
	})
	defer host.Close()

	server := web.NewServer(web.Config{
		ListenAddr: *listenAddr,
		Token:      *token,
		Workspaces: manager,
		Cache:      cache,
		PTY:        host,
		Buffers:    db,
		Files:      fsys,
		Unread:     db,
		Terminal:   termOpts,
		Clock:      clk,
	})

	go dumpRingOnSignal(ctx, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Printf("Panedeck serving on http://%s\n", server.Addr())
	if *token != "" {
		fmt.Println("Auth: token required (?token= or Authorization: Bearer)")
	}
	log.Info("serve_started", slog.String("addr", server.Addr()), slog.Bool("prefetch", prefetchOpts.Enabled))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("serve_stopped")
	return nil
}

// dumpRingOnSignal writes the recent in-memory log records to the state
// directory each time SIGUSR1 arrives.
func dumpRingOnSignal(ctx context.Context, log *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			dir, err := config.GetPanedeckDir()
			if err != nil {
				continue
			}
			path := filepath.Join(dir, fmt.Sprintf("ring-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				log.Warn("ring_dump_failed", slog.String("error", err.Error()))
				continue
			}
			log.Info("ring_dumped", slog.String("path", path))
		}
	}
}

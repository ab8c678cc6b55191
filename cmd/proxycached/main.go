// Command proxycached runs the range-addressed partial-content caching
// proxy. Grounded on tavern's main.go flag/bootstrap sequence, with the
// flag package swapped for cobra (wired in from the rest of the
// example pack) and the plugin/kratos application wrapper dropped in
// favor of directly running internal/server.Server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/spf13/cobra"

	"github.com/rangecache/mediaproxy/internal/cachemgr"
	"github.com/rangecache/mediaproxy/internal/conf"
	"github.com/rangecache/mediaproxy/internal/config"
	"github.com/rangecache/mediaproxy/internal/coordinator"
	"github.com/rangecache/mediaproxy/internal/diskstore"
	"github.com/rangecache/mediaproxy/internal/fusion"
	"github.com/rangecache/mediaproxy/internal/index"
	"github.com/rangecache/mediaproxy/internal/log"
	"github.com/rangecache/mediaproxy/internal/selector"
	"github.com/rangecache/mediaproxy/internal/server"
	"github.com/rangecache/mediaproxy/internal/upstream"
)

var (
	flagConfig   string
	flagPort     string
	flagCacheDir string
)

func main() {
	root := &cobra.Command{
		Use:   "proxycached [port] [cache-dir]",
		Short: "Range-addressed partial-content caching proxy",
		Args:  cobra.MaximumNArgs(2),
		RunE:  run,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	root.Flags().StringVarP(&flagPort, "port", "p", "", "listen port (overrides config and $PORT)")
	root.Flags().StringVarP(&flagCacheDir, "cache-dir", "d", "", "cache root directory (overrides config and $CACHE_DIR)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	bc := conf.Default()

	if flagConfig != "" {
		c := config.New[conf.Bootstrap](config.WithSource(config.FileSource(flagConfig)))
		defer c.Close()
		if err := c.Scan(bc); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	applyEnv(bc)
	applyPositionalArgs(bc, args)
	applyFlags(bc)

	if err := log.Init(&log.Config{
		Level:      bc.Logger.Level,
		Path:       bc.Logger.Path,
		Caller:     bc.Logger.Caller,
		MaxSize:    bc.Logger.MaxSize,
		MaxAge:     bc.Logger.MaxAge,
		MaxBackups: bc.Logger.MaxBackups,
		Compress:   bc.Logger.Compress,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: 120 * time.Second,
	})
	if err != nil {
		return err
	}
	defer flip.Stop()

	server.RemoveStaleSocket(flip, bc.Server.Addr)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP)
		for range sig {
			log.L().Infof("received SIGHUP, upgrading")
			if err := flip.Upgrade(); err != nil {
				log.L().Errorf("upgrade failed: %v", err)
			}
		}
	}()

	idx := index.New(bc.Cache.Root)
	touchIdx := cachemgr.NewTouchIndex()
	mgr := cachemgr.New(idx, cachemgr.Config{
		CleanupInterval: bc.Cache.CleanupInterval,
		MaxAge:          bc.Cache.MaxAge,
		MaxTotalBytes:   bc.Cache.MaxTotalBytes,
		MaxObjectBytes:  bc.Cache.MaxObjectBytes,
	}, touchIdx)
	if err := mgr.Recover(); err != nil {
		log.L().Warnf("cache recovery: %v", err)
	}

	store := diskstore.New(bc.Cache.ChunkSize)
	fetcher := upstream.New(upstream.Config{
		DialTimeout:         bc.Upstream.DialTimeout,
		FetchTimeout:        bc.Upstream.FetchTimeout,
		MaxIdleConns:        bc.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost: bc.Upstream.MaxIdleConnsPerHost,
		MaxConnsPerServer:   bc.Upstream.MaxConnsPerServer,
		InsecureSkipVerify:  bc.Upstream.InsecureSkipVerify,
		RetryCount:          bc.Upstream.RetryCount,
		RetryBackoff:        bc.Upstream.RetryBackoff,
		MaxConcurrentFetch:  bc.Upstream.MaxConcurrentFetch,
	})
	probe := upstream.NewSizeProbe(fetcher)
	sel := selector.New(idx, bc.Upstream.LivenessTTL)
	fuse := fusion.New(store, idx, fetcher, bc.Cache.WriteBackQueueDepth, touchIdx)
	coord := coordinator.New(idx, sel, fuse, probe, store, bc.Cache.Root, bc.Cache.IncludeQueryInKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgr.Run(ctx)

	srv := server.New(flip, bc.Server, bc.Metrics, coord)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.L().Infof("shutting down")
		cancel()
	}()

	return srv.Run(ctx)
}

// applyPositionalArgs mirrors the original implementation's CLI contract:
// "proxy-cache [PORT] [CACHE_DIR]".
func applyPositionalArgs(bc *conf.Bootstrap, args []string) {
	if len(args) > 0 && args[0] != "" {
		bc.Server.Addr = ":" + args[0]
	}
	if len(args) > 1 && args[1] != "" {
		bc.Cache.Root = args[1]
	}
}

func applyFlags(bc *conf.Bootstrap) {
	if flagPort != "" {
		bc.Server.Addr = ":" + flagPort
	}
	if flagCacheDir != "" {
		bc.Cache.Root = flagCacheDir
	}
}

func applyEnv(bc *conf.Bootstrap) {
	if v := os.Getenv("PORT"); v != "" && flagPort == "" {
		bc.Server.Addr = ":" + v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" && flagCacheDir == "" {
		bc.Cache.Root = v
	}
}

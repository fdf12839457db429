package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/asmogo/nostrelay/config"
	"github.com/asmogo/nostrelay/pool"
	"github.com/asmogo/nostrelay/relay"
	"github.com/asmogo/nostrelay/runtime"
	"github.com/asmogo/nostrelay/signerx"
	"github.com/asmogo/nostrelay/transport"
)

const (
	usageKinds   = "comma-separated event kinds to fetch"
	usageTimeout = "fetch timeout"
)

func main() {
	rootCmd := &cobra.Command{Use: "nostrelay-probe"}

	var kinds []int
	var timeout time.Duration

	fetchCmd := &cobra.Command{Use: "fetch", Run: func(cmd *cobra.Command, _ []string) {
		runFetch(cmd.Context(), kinds, timeout)
	}}
	fetchCmd.Flags().IntSliceVar(&kinds, "kinds", []int{1}, usageKinds)
	fetchCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, usageTimeout)

	rootCmd.AddCommand(fetchCmd)
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

func runFetch(ctx context.Context, kinds []int, timeout time.Duration) {
	cfg, err := config.LoadConfig[config.ProbeConfig]()
	if err != nil {
		panic(err)
	}

	runtime.Install(&runtime.Standard{})
	rt := runtime.Default()

	var proxy *transport.ProxyConfig
	if cfg.SocksProxy != "" {
		proxy = &transport.ProxyConfig{Addr: cfg.SocksProxy, Target: transport.ProxyTargetOnion}
	}
	driver := transport.NewDriver(rt, proxy)

	relays := cfg.NostrRelays
	if len(relays) == 0 {
		relays = config.DefaultRelays
	}

	p := pool.New()
	for _, url := range relays {
		b := relay.NewBuilder(url).WithRuntime(rt).WithTransport(driver)
		if cfg.NostrPrivateKey != "" {
			signer, err := signerx.NewKeypair(cfg.NostrPrivateKey)
			if err != nil {
				slog.Error("invalid private key", "error", err)
			} else {
				b = b.WithSigner(signer)
			}
		}
		r, err := b.Build()
		if err != nil {
			slog.Error("failed to build relay", "url", url, "error", err)
			continue
		}
		if err := r.Connect(ctx); err != nil {
			slog.Warn("initial connect failed, will keep retrying in background", "url", url, "error", err)
		}
		p.AddRelay(r)
	}

	events, err := p.NewRequest(pool.NewBroadcast(nostr.Filters{{Kinds: kinds, Limit: 20}})).
		Timeout(timeout).
		Fetch(ctx)
	if err != nil {
		slog.Error("fetch failed", "error", err)
		return
	}

	for _, ev := range events {
		fmt.Printf("%s kind=%d pubkey=%s created_at=%d\n", ev.ID, ev.Kind, ev.PubKey, ev.CreatedAt)
	}
}

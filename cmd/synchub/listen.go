package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/driftchat/synchub"
)

var (
	listenStatusAddr string
	listenEvents     []string
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenStatusAddr, "status-addr", "", "serve the status API on this address (overrides hub.status_addr)")
	listenCmd.Flags().StringSliceVar(&listenEvents, "event", nil, "only log these event types (repeatable; default all)")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the hub against the configured server",
	Long:  "Connect to the server, keep the cache in sync with its event stream, and log every event until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Server.URL == "" {
			return fmt.Errorf("no server configured. Run 'synchub init <server-url>' first")
		}

		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		heartbeat, err := cfg.Hub.heartbeat()
		if err != nil {
			return err
		}
		events, err := parseEvents(listenEvents)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		index, closeIndex, err := buildIndex(ctx, cfg.Index)
		if err != nil {
			return err
		}
		defer closeIndex()

		cache := synchub.NewQueryCache(synchub.WithCacheLogger(logger.WithField("component", "cache")))
		defer cache.Wait()
		synchub.NewClient(cfg.Server.Token, synchub.WithBaseURL(cfg.Server.URL)).Register(cache)

		bus := synchub.NewBus()
		transport := synchub.NewWSTransport(synchub.WSConfig{
			URL:                  cfg.Server.URL,
			Token:                cfg.Server.Token,
			AutoReconnect:        true,
			MaxReconnectAttempts: cfg.Hub.MaxReconnectAttempts,
			Logger:               logger.WithField("component", "transport"),
		})
		mgr, err := synchub.NewManager(transport, cache, index, bus,
			synchub.WithLogger(logger.WithField("component", "manager")),
			synchub.WithSelfID(cfg.Server.UserID),
			synchub.WithHeartbeatInterval(heartbeat),
		)
		if err != nil {
			return err
		}

		eventLog := logger.WithField("component", "bus")
		for _, t := range events {
			synchub.Subscribe(ctx, bus, t, func(_ context.Context, env synchub.Envelope) {
				eventLog.WithFields(logrus.Fields{"event": string(env.Type), "bytes": len(env.Payload)}).Info("event")
			})
		}

		g, gctx := errgroup.WithContext(ctx)
		if err := mgr.Start(gctx); err != nil {
			mgr.Stop()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return mgr.Stop()
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-transport.Lost():
				return fmt.Errorf("%s: %w", cfg.Server.URL, synchub.ErrConnectionLost)
			}
		})
		primeLog := logger.WithField("component", "prime")
		g.Go(func() error {
			primeCache(gctx, cache, primeLog)
			return nil
		})

		addr := valueOrDefault(listenStatusAddr, cfg.Hub.StatusAddr)
		if addr != "" {
			srv := synchub.NewStatusServer(addr, mgr, cache)
			g.Go(func() error { return srv.Serve(gctx) })
		}

		if _, err := os.Stat(path); err == nil {
			watchLog := logger.WithField("component", "config")
			g.Go(func() error {
				return watchConfig(gctx, path, watchLog, func(next *Config) {
					if err := applyLogLevel(logger, next.Log.Level); err != nil {
						watchLog.WithError(err).Warn("ignoring log level")
					}
				})
			})
		}

		logger.WithField("server", cfg.Server.URL).Info("hub running")
		return g.Wait()
	},
}

// primeCache loads the session keys, then the views of every community the
// user belongs to. Failures are logged; events keep flowing without them.
func primeCache(ctx context.Context, cache *synchub.QueryCache, log *logrus.Entry) {
	if err := cache.Prime(ctx, synchub.SessionKeys()...); err != nil {
		log.WithError(err).Warn("priming session keys")
	}
	v, ok := cache.Get(synchub.CommunitiesKey())
	communities, _ := v.(synchub.FlatList[synchub.Community])
	if !ok || len(communities) == 0 {
		return
	}
	var keys []synchub.Key
	for _, c := range communities {
		keys = append(keys, synchub.CommunityKeys(c.ID)...)
	}
	if err := cache.Prime(ctx, keys...); err != nil {
		log.WithError(err).Warn("priming community keys")
	}
	log.WithField("keys", len(cache.Keys())).Info("cache primed")
}

func parseEvents(names []string) ([]synchub.EventType, error) {
	if len(names) == 0 {
		return synchub.Catalog(), nil
	}
	events := make([]synchub.EventType, 0, len(names))
	for _, name := range names {
		t, err := synchub.ParseEventType(name)
		if err != nil {
			return nil, err
		}
		events = append(events, t)
	}
	return events, nil
}

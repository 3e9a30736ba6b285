package main

import (
	"context"
	"flag"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/aggregate"
	"main/internal/alert"
	"main/internal/api"
	"main/internal/bus"
	"main/internal/cache"
	"main/internal/channel"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/monitor"
	"main/internal/normalize"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/store"
	"main/internal/supervisor"
	"main/pkg/conn"
)

const queueSize = 4096

func main() {
	if err := run(); err != nil {
		logs.Errorf("marketd: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	loader := ops.NewLoader(*configPath)
	loaded, err := loader.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	if loaded.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.Profiling.ApplicationName,
			ServerAddress:   loaded.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	metrics := obs.NewMetrics()

	sup := supervisor.New(transportFactory, supervisor.Config{
		Channel:         loaded.Channel,
		RestartCooldown: loaded.RestartCooldown,
	})

	normalizer := normalize.New(metrics)
	engine := aggregate.NewEngine(loaded.Aggregation, metrics)
	alerts := alert.NewEngine(metrics)
	if err := alerts.Update(loaded.Rules); err != nil {
		return err
	}
	collector := monitor.NewCollector(loaded.Monitor)

	ticks := bus.NewStream[model.Tick]()
	go normalizer.Run(ctx, sup.Raw().Subscribe(queueSize), ticks)
	go engine.Run(ctx, ticks.Subscribe(queueSize))
	go alerts.Run(ctx,
		ticks.Subscribe(queueSize),
		engine.Candles().Subscribe(queueSize),
		engine.Snapshots().Subscribe(queueSize),
	)
	go collector.Run(ctx,
		sup.Lifecycle().Subscribe(queueSize),
		sup.Status().Subscribe(queueSize),
		sup.Stats().Subscribe(queueSize),
		sup.Removals().Subscribe(queueSize),
	)

	var pg *conn.Client
	var st *store.Store
	if loaded.Storage.Enabled {
		pg, err = conn.New(conn.Option{
			Host:     loaded.Storage.Host,
			Port:     loaded.Storage.Port,
			User:     loaded.Storage.User,
			Password: loaded.Storage.Password,
			Database: loaded.Storage.Database,
			SSLMode:  loaded.Storage.SSLMode,
			Pool: conn.Pool{
				MaxOpenConns: loaded.Storage.MaxOpenConns,
				MaxIdleConns: loaded.Storage.MaxIdleConns,
			},
		})
		if err != nil {
			return err
		}
		defer pg.Close()
		st = store.New(pg.DB(), store.Config{BatchSize: loaded.Storage.BatchSize}, metrics)
		if err := st.Migrate(); err != nil {
			return err
		}
		go st.Run(ctx,
			engine.Candles().Subscribe(queueSize),
			engine.Snapshots().Subscribe(queueSize),
			alerts.Alerts().Subscribe(queueSize),
		)
	}

	var ca *cache.Cache
	if loaded.Cache.Enabled {
		ca, err = cache.New(cache.Config{
			Address:  loaded.Cache.Address,
			Password: loaded.Cache.Password,
			DB:       loaded.Cache.DB,
			TTL:      loaded.CacheTTL,
		}, metrics)
		if err != nil {
			return err
		}
		defer ca.Close()
		go ca.Run(ctx,
			ticks.Subscribe(queueSize),
			engine.Candles().Subscribe(queueSize),
		)
	}

	apiErr := make(chan error, 1)
	if loaded.API.Enabled {
		server := api.New(api.Config{Listen: loaded.API.Listen}, collector, metrics, st, ca, alerts)
		go server.Hub().Pump(ctx,
			ticks.Subscribe(queueSize),
			engine.Candles().Subscribe(queueSize),
			alerts.Alerts().Subscribe(queueSize),
		)
		go func() { apiErr <- server.Run(ctx) }()
	}

	if err := sup.Reconcile(ctx, loaded.Profiles); err != nil {
		return err
	}
	logs.Infof("marketd running with %d channel profiles", len(loaded.Profiles))

	loader.Watch(func(next ops.Loaded) {
		if err := sup.Reconcile(ctx, next.Profiles); err != nil {
			logs.Errorf("reconcile after config reload: %+v", err)
		}
		if err := alerts.Update(next.Rules); err != nil {
			logs.Errorf("update rules after config reload: %+v", err)
		}
		logs.Infof("config reloaded: %d profiles, %d rules", len(next.Profiles), len(next.Rules))
	})

	<-ctx.Done()
	logs.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	sup.Shutdown(shutdownCtx)
	engine.Flush()

	if loaded.API.Enabled {
		select {
		case err := <-apiErr:
			return err
		case <-shutdownCtx.Done():
		}
	}
	return nil
}

func transportFactory(p channel.Profile) (channel.Transport, error) {
	switch p.Transport {
	case enum.TransportSynthetic:
		return channel.NewSyntheticTransport(p.Symbols, p.UpdateInterval, 0, time.Now().UnixNano()), nil
	default:
		frames, err := normalize.SubscribeFrames(p.Exchange, p.Symbols)
		if err != nil {
			return nil, err
		}
		return channel.NewWebsocketTransport(p.Endpoint, frames), nil
	}
}

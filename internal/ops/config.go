package ops

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/aggregate"
	"main/internal/alert"
	"main/internal/channel"
	"main/internal/model/enum"
	"main/internal/monitor"
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Profiles  []ProfileConfig     `mapstructure:"profiles"`
	Rules     []alert.RuleConfig  `mapstructure:"rules"`
	Windows   WindowsConfig       `mapstructure:"windows"`
	Channel   ChannelTuningConfig `mapstructure:"channel"`
	Monitor   MonitorConfig       `mapstructure:"monitor"`
	Storage   StorageConfig       `mapstructure:"storage"`
	Cache     CacheConfig         `mapstructure:"cache"`
	API       APIConfig           `mapstructure:"api"`
	Profiling ProfilingConfig     `mapstructure:"profiling"`
}

// ProfileConfig describes one desired market-data source.
type ProfileConfig struct {
	Exchange               string   `mapstructure:"exchange"`
	MarketType             string   `mapstructure:"market_type"`
	Transport              string   `mapstructure:"transport"`
	Endpoint               string   `mapstructure:"endpoint"`
	Symbols                []string `mapstructure:"symbols"`
	TargetUpdateIntervalMs int      `mapstructure:"target_update_interval_ms"`
	Enabled                bool     `mapstructure:"enabled"`
}

// WindowsConfig tunes the aggregation engine.
type WindowsConfig struct {
	Sizes         []string `mapstructure:"sizes"`
	Grace         string   `mapstructure:"grace"`
	SweepInterval string   `mapstructure:"sweep_interval"`
}

// ChannelTuningConfig tunes every channel the supervisor creates.
type ChannelTuningConfig struct {
	QueueSize       int     `mapstructure:"queue_size"`
	MaxRetries      int     `mapstructure:"max_retries"`
	StatsInterval   string  `mapstructure:"stats_interval"`
	BackoffMin      string  `mapstructure:"backoff_min"`
	BackoffMax      string  `mapstructure:"backoff_max"`
	BackoffFactor   float64 `mapstructure:"backoff_factor"`
	BackoffJitter   float64 `mapstructure:"backoff_jitter"`
	RestartCooldown string  `mapstructure:"restart_cooldown"`
}

// MonitorConfig tunes SLA evaluation.
type MonitorConfig struct {
	MaxTickDelay string `mapstructure:"max_tick_delay"`
}

// StorageConfig describes the optional PostgreSQL sink.
type StorageConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	BatchSize    int    `mapstructure:"batch_size"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// CacheConfig describes the optional Redis latest-value cache.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      string `mapstructure:"ttl"`
}

// APIConfig describes the HTTP/websocket surface.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"server_address"`
	ApplicationName string `mapstructure:"application_name"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Profiles        []channel.Profile
	Rules           []alert.RuleConfig
	Aggregation     aggregate.Config
	Channel         channel.Config
	RestartCooldown time.Duration
	Monitor         monitor.Config
	Storage         StorageConfig
	Cache           CacheConfig
	CacheTTL        time.Duration
	API             APIConfig
	Profiling       ProfilingConfig
}

// Loader reads and watches one YAML config file.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader builds a loader for the given path.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return &Loader{v: v, path: path}
}

// Load reads, validates and resolves the config file.
func (l *Loader) Load() (Loaded, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return Loaded{}, errors.Wrapf(err, "read config %s", l.path)
	}
	var cfg FileConfig
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Loaded{}, errors.Wrapf(err, "unmarshal config %s", l.path)
	}
	return Resolve(cfg)
}

// Watch re-loads the file on every change and hands the result to apply.
// Invalid updates are logged and dropped; the previous config stays active.
func (l *Loader) Watch(apply func(Loaded)) {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		loaded, err := l.Load()
		if err != nil {
			logs.Errorf("reload config %s: %+v", l.path, err)
			return
		}
		apply(loaded)
	})
	l.v.WatchConfig()
}

// Resolve validates a file config and converts it into runtime types.
func Resolve(cfg FileConfig) (Loaded, error) {
	loaded := Loaded{
		Rules:     cfg.Rules,
		Storage:   cfg.Storage,
		Cache:     cfg.Cache,
		API:       cfg.API,
		Profiling: cfg.Profiling,
	}

	seen := make(map[string]struct{}, len(cfg.Profiles))
	for i, pc := range cfg.Profiles {
		profile, err := resolveProfile(pc)
		if err != nil {
			return Loaded{}, errors.Wrapf(err, "profile %d", i)
		}
		if _, dup := seen[profile.Key()]; dup {
			return Loaded{}, errors.Wrapf(ErrConfigValidation, "duplicate profile %s", profile.Key())
		}
		seen[profile.Key()] = struct{}{}
		loaded.Profiles = append(loaded.Profiles, profile)
	}

	if err := alert.ValidateRules(cfg.Rules); err != nil {
		return Loaded{}, errors.Wrapf(ErrConfigValidation, "rules: %v", err)
	}

	var err error
	if loaded.Aggregation, err = resolveWindows(cfg.Windows); err != nil {
		return Loaded{}, err
	}
	if loaded.Channel, loaded.RestartCooldown, err = resolveChannel(cfg.Channel); err != nil {
		return Loaded{}, err
	}
	if loaded.Monitor, err = resolveMonitor(cfg.Monitor); err != nil {
		return Loaded{}, err
	}
	if loaded.CacheTTL, err = optionalDuration(cfg.Cache.TTL, time.Minute); err != nil {
		return Loaded{}, errors.Wrapf(ErrConfigValidation, "cache.ttl: %v", err)
	}
	return loaded, nil
}

func resolveProfile(pc ProfileConfig) (channel.Profile, error) {
	if pc.TargetUpdateIntervalMs <= 0 {
		return channel.Profile{}, errors.Wrapf(ErrConfigValidation, "target_update_interval_ms must be positive, got %d", pc.TargetUpdateIntervalMs)
	}
	transport, ok := enum.ParseTransport(pc.Transport)
	if !ok {
		return channel.Profile{}, errors.Wrapf(ErrConfigValidation, "unknown transport %q", pc.Transport)
	}
	marketType, ok := enum.ParseMarketType(pc.MarketType)
	if !ok {
		return channel.Profile{}, errors.Wrapf(ErrConfigValidation, "unknown market_type %q", pc.MarketType)
	}
	profile := channel.Profile{
		Exchange:       strings.ToLower(pc.Exchange),
		MarketType:     marketType,
		Transport:      transport,
		Endpoint:       pc.Endpoint,
		Symbols:        pc.Symbols,
		UpdateInterval: time.Duration(pc.TargetUpdateIntervalMs) * time.Millisecond,
		Enabled:        pc.Enabled,
	}
	if err := profile.Validate(); err != nil {
		return channel.Profile{}, errors.Wrapf(ErrConfigValidation, "%v", err)
	}
	return profile, nil
}

func resolveWindows(wc WindowsConfig) (aggregate.Config, error) {
	cfg := aggregate.Config{}
	for _, raw := range wc.Sizes {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			return aggregate.Config{}, errors.Wrapf(ErrConfigValidation, "window size %q", raw)
		}
		cfg.Windows = append(cfg.Windows, window)
	}
	var err error
	if cfg.Grace, err = optionalDuration(wc.Grace, 0); err != nil {
		return aggregate.Config{}, errors.Wrapf(ErrConfigValidation, "windows.grace: %v", err)
	}
	if cfg.SweepInterval, err = optionalDuration(wc.SweepInterval, 0); err != nil {
		return aggregate.Config{}, errors.Wrapf(ErrConfigValidation, "windows.sweep_interval: %v", err)
	}
	return cfg, nil
}

func resolveChannel(cc ChannelTuningConfig) (channel.Config, time.Duration, error) {
	cfg := channel.Config{
		QueueSize:  cc.QueueSize,
		MaxRetries: cc.MaxRetries,
		Backoff: channel.Backoff{
			Factor: cc.BackoffFactor,
			Jitter: cc.BackoffJitter,
		},
	}
	var err error
	if cfg.StatsInterval, err = optionalDuration(cc.StatsInterval, 0); err != nil {
		return channel.Config{}, 0, errors.Wrapf(ErrConfigValidation, "channel.stats_interval: %v", err)
	}
	if cfg.Backoff.Min, err = optionalDuration(cc.BackoffMin, 0); err != nil {
		return channel.Config{}, 0, errors.Wrapf(ErrConfigValidation, "channel.backoff_min: %v", err)
	}
	if cfg.Backoff.Max, err = optionalDuration(cc.BackoffMax, 0); err != nil {
		return channel.Config{}, 0, errors.Wrapf(ErrConfigValidation, "channel.backoff_max: %v", err)
	}
	cooldown, err := optionalDuration(cc.RestartCooldown, 0)
	if err != nil {
		return channel.Config{}, 0, errors.Wrapf(ErrConfigValidation, "channel.restart_cooldown: %v", err)
	}
	return cfg, cooldown, nil
}

func resolveMonitor(mc MonitorConfig) (monitor.Config, error) {
	delay, err := optionalDuration(mc.MaxTickDelay, 0)
	if err != nil {
		return monitor.Config{}, errors.Wrapf(ErrConfigValidation, "monitor.max_tick_delay: %v", err)
	}
	return monitor.Config{MaxTickDelay: delay}, nil
}

func optionalDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if len(raw) == 0 {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Errorf("negative duration")
	}
	return d, nil
}

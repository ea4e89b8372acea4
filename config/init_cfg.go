package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const DefaultConfigPath = "./bin/config.yaml"

var (
	Viper *viper.Viper
	Conf  *Config

	mu sync.RWMutex
)

type Config struct {
	ZapConf    *ZapConfig  `mapstructure:"zap"`
	RaftConfig *RaftConfig `mapstructure:"raft"`
	AppConfig  *AppConfig  `mapstructure:"app"`
}

// InitConfig reads the yaml file at path into Conf and keeps watching it.
// An empty path falls back to DefaultConfigPath.
func InitConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	Viper, Conf = v, cfg
	mu.Unlock()

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		fmt.Println("config file changed:", e.Name)
		newCfg, err := unmarshal(v)
		if err != nil {
			fmt.Println(err)
			return
		}
		mu.Lock()
		Conf = newCfg
		mu.Unlock()
	})
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("zap.level", "info")
	v.SetDefault("zap.format", "console")
	v.SetDefault("zap.prefix", "[Cold2Raft]")
	v.SetDefault("zap.director", "./log")
	v.SetDefault("zap.encode-level", "LowercaseLevelEncoder")
	v.SetDefault("zap.stacktrace-key", "stacktrace")
	v.SetDefault("zap.max-age", 7)
	v.SetDefault("zap.log-in-console", true)
	v.SetDefault("raft.max-inflight-msgs", DefaultMaxInflightMsgs)
	v.SetDefault("raft.max-size-per-msg", DefaultMaxSizePerMsg)
	v.SetDefault("raft.check-quorum-rounds", DefaultCheckQuorumRounds)
	v.SetDefault("app.http-addr", DefaultHttpAddr)
	v.SetDefault("app.heartbeat-interval", DefaultHeartbeatInterval)
	v.SetDefault("app.request-timeout", DefaultRequestTimeout)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if cfg.RaftConfig == nil {
		return nil, errors.New("config: missing raft section")
	}
	if err := cfg.RaftConfig.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func GetZapConf() *ZapConfig {
	mu.RLock()
	defer mu.RUnlock()
	return Conf.ZapConf
}

func GetRaftConf() *RaftConfig {
	mu.RLock()
	defer mu.RUnlock()
	return Conf.RaftConfig
}

func GetAppConf() *AppConfig {
	mu.RLock()
	defer mu.RUnlock()
	return Conf.AppConfig
}

package config

import "time"

const (
	DefaultHttpAddr          = ":7878"
	DefaultHeartbeatInterval = 100 * time.Millisecond
	DefaultRequestTimeout    = 5 * time.Second
)

// AppConfig configures the demo kv service in front of the leader.
type AppConfig struct {
	HttpAddr string `mapstructure:"http-addr" yaml:"http-addr"`
	// 心跳间隔
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval" yaml:"heartbeat-interval"`
	// 客户端请求超时时间
	RequestTimeout time.Duration `mapstructure:"request-timeout" yaml:"request-timeout"`
}

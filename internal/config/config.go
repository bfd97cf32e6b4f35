// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/sea922/codestudio/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Claude CLI
	ClaudeBinary     string `env:"CLAUDE_BINARY"`
	ClaudeModel      string `env:"CLAUDE_MODEL"`
	ClaudeTimeoutSec int    `env:"CLAUDE_TIMEOUT_SEC" default:"600" min:"1"`
	StderrLimitBytes int    `env:"STDERR_LIMIT_BYTES" default:"262144" min:"1024"` // 256KB

	// PostgreSQL
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// Web 模式 (gin 服务)
	WebHost         string `env:"WEB_HOST" default:"127.0.0.1"`
	WebPort         int    `env:"WEB_PORT" default:"8080" min:"1"`
	WebSSESyncSec   int    `env:"WEB_SSE_SYNC_SEC" default:"5" min:"1"`
	SessionLogLimit int    `env:"SESSION_LOG_LIMIT" default:"1000" min:"1"`

	// 流传输
	// StreamSocketURL socket 传输连接的 websocket 端点。
	StreamSocketURL string `env:"STREAM_SOCKET_URL" default:"ws://127.0.0.1:8080/ws/claude-stream"`
	ForceSocket     bool   `env:"FORCE_SOCKET_TRANSPORT" default:"false"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR" default:"logs"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

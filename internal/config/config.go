// Package config 提供配置管理
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opmed/opmed/pkg/errors"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Solver   SolverConfig   `yaml:"solver"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// APIConfig API配置
type APIConfig struct {
	RateLimit int           `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
	CORS      CORSConfig    `yaml:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// ScheduleConfig 排程约束配置（时间单位已换算为刻度）
// 一次求解运行期间只读，所有组件共享同一实例
type ScheduleConfig struct {
	TicksPerHour           int     `yaml:"ticks_per_hour"`
	RoomsMax               int     `yaml:"rooms_max"`
	ShiftMinTicks          int     `yaml:"shift_min_ticks"`
	ShiftMaxTicks          int     `yaml:"shift_max_ticks"`
	ShiftOvertimeTicks     int     `yaml:"shift_overtime_ticks"`
	BufferTicks            int     `yaml:"buffer_ticks"`
	DurationMaxTicks       int     `yaml:"duration_max_ticks"`
	OvertimeMultiplier     float64 `yaml:"overtime_multiplier"`
	UtilizationTarget      float64 `yaml:"utilization_target"`
	EnforceDurationLimit   bool    `yaml:"enforce_duration_limit"`
	BufferSameRoom         bool    `yaml:"buffer_same_room"` // true 时缓冲约束同样作用于同室连台
	ActivationPenaltyHours float64 `yaml:"activation_penalty_hours"`
}

// TicksToHours 刻度换算为小时
func (c *ScheduleConfig) TicksToHours(ticks int) float64 {
	return float64(ticks) / float64(c.TicksPerHour)
}

// Validate 校验排程配置
func (c *ScheduleConfig) Validate() error {
	if c.TicksPerHour <= 0 {
		return errors.ConfigError("ticks_per_hour", "必须为正")
	}
	if c.RoomsMax < 0 {
		return errors.ConfigError("rooms_max", "不能为负")
	}
	if c.ShiftMinTicks < 0 || c.ShiftMaxTicks < c.ShiftMinTicks {
		return errors.ConfigError("shift_max_ticks", "必须满足 0 <= shift_min <= shift_max")
	}
	if c.BufferTicks < 0 {
		return errors.ConfigError("buffer_ticks", "不能为负")
	}
	if c.UtilizationTarget < 0 || c.UtilizationTarget > 1 {
		return errors.ConfigError("utilization_target", "必须在 [0, 1] 区间内")
	}
	// 成本函数须随班次跨度与启用资源数单调不减，否则部分成本剪枝不再保守
	if c.OvertimeMultiplier < 1 {
		return errors.ConfigError("overtime_multiplier", "不能小于 1")
	}
	if c.ActivationPenaltyHours < 0 {
		return errors.ConfigError("activation_penalty_hours", "不能为负")
	}
	return nil
}

// SolverConfig 求解器配置
type SolverConfig struct {
	NumWorkers int           `yaml:"num_workers"`
	MaxTime    time.Duration `yaml:"max_time"`
	RandomSeed int64         `yaml:"random_seed"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:     getEnv("APP_NAME", "opmed"),
			Env:      getEnv("APP_ENV", "development"),
			Port:     getEnvInt("APP_PORT", 7012),
			LogLevel: getEnv("APP_LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "opmed"),
			User:            getEnv("DB_USER", "opmed"),
			Password:        getEnv("DB_PASSWORD", "opmed123"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		API: APIConfig{
			RateLimit: getEnvInt("API_RATE_LIMIT", 100),
			Timeout:   getEnvDuration("API_TIMEOUT", 30*time.Second),
			CORS: CORSConfig{
				Enabled: getEnvBool("API_CORS_ENABLED", true),
				Origins: []string{"*"},
			},
		},
		Schedule: DefaultScheduleConfig(),
		Solver: SolverConfig{
			NumWorkers: getEnvInt("SOLVER_NUM_WORKERS", 4),
			MaxTime:    getEnvDuration("SOLVER_MAX_TIME", 60*time.Second),
			RandomSeed: int64(getEnvInt("SOLVER_RANDOM_SEED", 0)),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	return cfg, nil
}

// DefaultScheduleConfig 返回默认排程配置（5 分钟刻度）
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		TicksPerHour:           12,
		RoomsMax:               20,
		ShiftMinTicks:          60,  // 5 小时
		ShiftMaxTicks:          144, // 12 小时
		ShiftOvertimeTicks:     108, // 9 小时
		BufferTicks:            3,   // 15 分钟
		DurationMaxTicks:       144,
		OvertimeMultiplier:     1.5,
		UtilizationTarget:      0.8,
		EnforceDurationLimit:   true,
		BufferSameRoom:         false,
		ActivationPenaltyHours: 0.5,
	}
}

// scheduleFile YAML 配置文件结构（时间单位为小时，加载时换算为刻度）
type scheduleFile struct {
	TimeUnit               float64  `yaml:"time_unit"` // 单刻度时长（小时）
	RoomsMax               int      `yaml:"rooms_max"`
	ShiftMin               float64  `yaml:"shift_min"`
	ShiftMax               float64  `yaml:"shift_max"`
	ShiftOvertime          float64  `yaml:"shift_overtime"`
	Buffer                 float64  `yaml:"buffer"`
	DurationMax            *float64 `yaml:"duration_max"`
	OvertimeMultiplier     float64  `yaml:"overtime_multiplier"`
	UtilizationTarget      float64  `yaml:"utilization_target"`
	EnforceDurationLimit   *bool    `yaml:"enforce_surgery_duration_limit"`
	BufferSameRoom         bool     `yaml:"buffer_same_room"`
	ActivationPenaltyHours float64  `yaml:"activation_penalty_hours"`
}

// LoadScheduleFile 从 YAML 文件加载排程配置
// 文件中以小时表示的字段在此处一次性换算为刻度（四舍五入），之后全程使用刻度
func LoadScheduleFile(path string) (ScheduleConfig, error) {
	cfg := DefaultScheduleConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.ConfigError(path, "无法读取配置文件").WithCause(err)
	}

	f := scheduleFile{
		TimeUnit:               1.0 / 12,
		RoomsMax:               cfg.RoomsMax,
		ShiftMin:               5.0,
		ShiftMax:               12.0,
		ShiftOvertime:          9.0,
		Buffer:                 0.25,
		OvertimeMultiplier:     cfg.OvertimeMultiplier,
		UtilizationTarget:      cfg.UtilizationTarget,
		ActivationPenaltyHours: cfg.ActivationPenaltyHours,
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return cfg, errors.ConfigError(path, "YAML 解析失败").WithCause(err)
	}
	if f.TimeUnit <= 0 {
		return cfg, errors.ConfigError("time_unit", "必须为正")
	}

	tph := int(math.Round(1 / f.TimeUnit))
	if tph <= 0 {
		return cfg, errors.ConfigError("time_unit", "换算后每小时刻度数为零")
	}
	toTicks := func(hours float64) int {
		return int(math.Round(hours * float64(tph)))
	}

	cfg.TicksPerHour = tph
	cfg.RoomsMax = f.RoomsMax
	cfg.ShiftMinTicks = toTicks(f.ShiftMin)
	cfg.ShiftMaxTicks = toTicks(f.ShiftMax)
	cfg.ShiftOvertimeTicks = toTicks(f.ShiftOvertime)
	cfg.BufferTicks = toTicks(f.Buffer)
	cfg.OvertimeMultiplier = f.OvertimeMultiplier
	cfg.UtilizationTarget = f.UtilizationTarget
	cfg.BufferSameRoom = f.BufferSameRoom
	cfg.ActivationPenaltyHours = f.ActivationPenaltyHours
	if f.DurationMax != nil {
		cfg.DurationMaxTicks = toTicks(*f.DurationMax)
	} else {
		cfg.DurationMaxTicks = cfg.ShiftMaxTicks
	}
	if f.EnforceDurationLimit != nil {
		cfg.EnforceDurationLimit = *f.EnforceDurationLimit
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsTest 检查是否为测试环境
func (c *Config) IsTest() bool {
	return c.App.Env == "test"
}

// 辅助函数
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

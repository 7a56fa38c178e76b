package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 机器人完整配置（启动时加载一次，之后只读）
type Config struct {
	Symbol      string  `yaml:"symbol"`
	DryRun      bool    `yaml:"dry_run"`
	OrderSize   Decimal `yaml:"order_size"`
	MaxPosition Decimal `yaml:"max_position"`
	TickSize    Decimal `yaml:"tick_size"`

	Threshold ThresholdConfig `yaml:"threshold"`
	Close     CloseConfig     `yaml:"close"`
	Execution ExecutionConfig `yaml:"execution"`
	Engine    EngineConfig    `yaml:"engine"`
	Unwind    UnwindConfig    `yaml:"unwind"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	State     StateConfig     `yaml:"state"`
	Ops       OpsConfig       `yaml:"ops"`
	Log       LogConfig       `yaml:"log"`
}

// ThresholdConfig 开仓阈值配置
type ThresholdConfig struct {
	Adaptive       bool     `yaml:"adaptive"`
	Long           Decimal  `yaml:"long"`  // 固定模式阈值
	Short          Decimal  `yaml:"short"` // 固定模式阈值
	WindowSize     int      `yaml:"window_size"`
	UpdateInterval Duration `yaml:"update_interval"`
	Percentile     float64  `yaml:"percentile"`
	Min            Decimal  `yaml:"min"`
	Max            Decimal  `yaml:"max"`
	MinSamples     int      `yaml:"min_samples"`
}

// CloseStageConfig 平仓时长档位
type CloseStageConfig struct {
	After      Duration `yaml:"after"`
	Multiplier Decimal  `yaml:"multiplier"`
	MinSpread  Decimal  `yaml:"min_spread"`
}

// CloseConfig 平仓策略配置。Stages 为空时使用内置默认档位。
type CloseConfig struct {
	Multiplier Decimal            `yaml:"multiplier"`
	MinSpread  Decimal            `yaml:"min_spread"`
	Stages     []CloseStageConfig `yaml:"stages"`
}

// ExecutionConfig 执行层配置
type ExecutionConfig struct {
	FillTimeout       Duration `yaml:"fill_timeout"`
	PollInterval      Duration `yaml:"poll_interval"`
	PriceTolerancePct Decimal  `yaml:"price_tolerance_pct"`
	HedgeSlippagePct  Decimal  `yaml:"hedge_slippage_pct"`
	HedgeMaxAttempts  int      `yaml:"hedge_max_attempts"`
	HedgeBaseDelay    Duration `yaml:"hedge_base_delay"`
}

// EngineConfig 决策循环配置
type EngineConfig struct {
	TickInterval         Duration `yaml:"tick_interval"`
	QuoteMaxAge          Duration `yaml:"quote_max_age"`
	PositionSyncInterval Duration `yaml:"position_sync_interval"`
	PositionTolerance    Decimal  `yaml:"position_tolerance"`
	NakedCooloff         Duration `yaml:"naked_cooloff"`
	StatusLogInterval    Duration `yaml:"status_log_interval"`
	SkipLogInterval      Duration `yaml:"skip_log_interval"`
}

// UnwindConfig 紧急收尾配置
type UnwindConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	Timeout     Duration `yaml:"timeout"`
	SlippagePct Decimal  `yaml:"slippage_pct"`
}

// FeedConfig 单场所行情源配置
type FeedConfig struct {
	WSURL            string   `yaml:"ws_url"`
	RESTURL          string   `yaml:"rest_url"`
	PingInterval     Duration `yaml:"ping_interval"`
	RESTPollInterval Duration `yaml:"rest_poll_interval"`
}

// FeedsConfig 两场所行情源配置
type FeedsConfig struct {
	Maker FeedConfig `yaml:"maker"`
	Taker FeedConfig `yaml:"taker"`
}

// RecorderConfig 成交/行情落库配置
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StateConfig 持仓状态持久化配置
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// OpsConfig 运维状态接口配置
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load 从 YAML 文件加载配置，应用默认值并校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "读取配置文件 %s 失败", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "解析配置文件 %s 失败", path)
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 行情源地址允许用环境变量覆盖（部署时与凭证放在一起管理）
func (c *Config) applyEnv() {
	if v := os.Getenv("GOARB_MAKER_WS_URL"); v != "" {
		c.Feeds.Maker.WSURL = v
	}
	if v := os.Getenv("GOARB_TAKER_WS_URL"); v != "" {
		c.Feeds.Taker.WSURL = v
	}
	if v := os.Getenv("GOARB_MAKER_REST_URL"); v != "" {
		c.Feeds.Maker.RESTURL = v
	}
	if v := os.Getenv("GOARB_TAKER_REST_URL"); v != "" {
		c.Feeds.Taker.RESTURL = v
	}
}

// ApplyDefaults 为缺省字段填默认值
func (c *Config) ApplyDefaults() {
	if c.Symbol == "" {
		c.Symbol = "BTC-USD"
	}
	if c.OrderSize.IsZero() {
		c.OrderSize = D("0.1")
	}
	if c.MaxPosition.IsZero() {
		c.MaxPosition = D("1")
	}
	if c.TickSize.IsZero() {
		c.TickSize = D("0.1")
	}

	t := &c.Threshold
	if t.WindowSize <= 0 {
		t.WindowSize = 1000
	}
	if t.UpdateInterval.Duration <= 0 {
		t.UpdateInterval.Duration = time.Minute
	}
	if t.Percentile == 0 {
		t.Percentile = 50
	}
	if t.MinSamples <= 0 {
		t.MinSamples = 100
	}
	if t.Min.IsZero() {
		t.Min = D("0.1")
	}
	if t.Max.IsZero() {
		t.Max = D("1.0")
	}
	if t.Long.IsZero() {
		t.Long = D("0.2")
	}
	if t.Short.IsZero() {
		t.Short = D("0.2")
	}

	cl := &c.Close
	if cl.Multiplier.IsZero() {
		cl.Multiplier = D("0.10")
	}
	if cl.MinSpread.IsZero() {
		cl.MinSpread = D("0.15")
	}

	ex := &c.Execution
	if ex.FillTimeout.Duration <= 0 {
		ex.FillTimeout.Duration = 5 * time.Second
	}
	if ex.PollInterval.Duration <= 0 {
		ex.PollInterval.Duration = 100 * time.Millisecond
	}
	if ex.PriceTolerancePct.IsZero() {
		ex.PriceTolerancePct = D("0.05")
	}
	if ex.HedgeSlippagePct.IsZero() {
		ex.HedgeSlippagePct = D("0.5")
	}
	if ex.HedgeMaxAttempts <= 0 {
		ex.HedgeMaxAttempts = 3
	}
	if ex.HedgeBaseDelay.Duration <= 0 {
		ex.HedgeBaseDelay.Duration = 2 * time.Second
	}

	en := &c.Engine
	if en.TickInterval.Duration <= 0 {
		en.TickInterval.Duration = time.Second
	}
	if en.QuoteMaxAge.Duration <= 0 {
		en.QuoteMaxAge.Duration = 10 * time.Second
	}
	if en.PositionSyncInterval.Duration <= 0 {
		en.PositionSyncInterval.Duration = time.Minute
	}
	if en.PositionTolerance.IsZero() {
		en.PositionTolerance = D("0.001")
	}
	if en.NakedCooloff.Duration <= 0 {
		en.NakedCooloff.Duration = 5 * time.Minute
	}
	if en.StatusLogInterval.Duration <= 0 {
		en.StatusLogInterval.Duration = time.Hour
	}
	if en.SkipLogInterval.Duration <= 0 {
		en.SkipLogInterval.Duration = 5 * time.Minute
	}

	uw := &c.Unwind
	if uw.MaxAttempts <= 0 {
		uw.MaxAttempts = 3
	}
	if uw.BaseDelay.Duration <= 0 {
		uw.BaseDelay.Duration = 2 * time.Second
	}
	if uw.Timeout.Duration <= 0 {
		uw.Timeout.Duration = 30 * time.Second
	}
	if uw.SlippagePct.IsZero() {
		uw.SlippagePct = D("0.5")
	}

	if c.Feeds.Maker.PingInterval.Duration <= 0 {
		c.Feeds.Maker.PingInterval.Duration = 15 * time.Second
	}
	if c.Feeds.Taker.PingInterval.Duration <= 0 {
		c.Feeds.Taker.PingInterval.Duration = 15 * time.Second
	}
	if c.Feeds.Maker.RESTPollInterval.Duration <= 0 {
		c.Feeds.Maker.RESTPollInterval.Duration = 2 * time.Second
	}
	if c.Feeds.Taker.RESTPollInterval.Duration <= 0 {
		c.Feeds.Taker.RESTPollInterval.Duration = 2 * time.Second
	}

	if c.Recorder.Path == "" {
		c.Recorder.Path = "data/goarb.db"
	}
	if c.State.Dir == "" {
		c.State.Dir = "data/state"
	}
	if c.Ops.Addr == "" {
		c.Ops.Addr = "127.0.0.1:8721"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 7
	}
}

// Validate 校验配置一致性
func (c *Config) Validate() error {
	if !c.OrderSize.IsPositive() {
		return errors.New("config: order_size 必须为正")
	}
	if !c.MaxPosition.IsPositive() {
		return errors.New("config: max_position 必须为正")
	}
	if c.OrderSize.GreaterThan(c.MaxPosition.Decimal) {
		return errors.New("config: order_size 不得大于 max_position")
	}
	if !c.TickSize.IsPositive() {
		return errors.New("config: tick_size 必须为正")
	}

	t := c.Threshold
	if t.Adaptive {
		if t.Percentile < 0 || t.Percentile > 100 {
			return errors.Errorf("config: threshold.percentile %v 超出范围", t.Percentile)
		}
		if t.Min.GreaterThan(t.Max.Decimal) {
			return errors.New("config: threshold.min 不得大于 threshold.max")
		}
	}

	for i, s := range c.Close.Stages {
		if s.Multiplier.IsNegative() {
			return errors.Errorf("config: close.stages[%d].multiplier 不得为负", i)
		}
	}

	if !c.DryRun {
		if c.Feeds.Maker.WSURL == "" || c.Feeds.Taker.WSURL == "" {
			return errors.New("config: 实盘模式必须配置两个场所的 ws_url")
		}
	}
	return nil
}

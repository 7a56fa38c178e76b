package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration 是一个"可读"的 duration 类型：
// - YAML 支持字符串（例如 "5s", "1h"）
// - 也支持数字，按"秒"解释（兼容简写）
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration node kind %v", value.Kind)
	}
	s := strings.TrimSpace(value.Value)
	if s == "" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" || value.Tag == "!!float" {
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return fmt.Errorf("invalid duration seconds %q: %w", s, err)
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Decimal 可从 YAML 字符串或数字解析的 decimal 包装。
// 金额/价格类配置一律用它，避免 float64 精度噪声进入交易逻辑。
type Decimal struct {
	decimal.Decimal
}

// D 便捷构造
func D(s string) Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("config: bad decimal literal %q", s))
	}
	return Decimal{d}
}

func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid decimal node kind %v", value.Kind)
	}
	s := strings.TrimSpace(value.Value)
	if s == "" {
		d.Decimal = decimal.Zero
		return nil
	}
	dd, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	d.Decimal = dd
	return nil
}

func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.Decimal.String(), nil
}

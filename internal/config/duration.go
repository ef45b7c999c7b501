package config

import (
	"fmt"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Duration はYAML上で "3s" のような文字列で書ける時間間隔。
type Duration time.Duration

// Std はtime.Durationに変換する。
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML はyaml.Unmarshalerを実装する。
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("時間間隔は文字列で指定してください: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("時間間隔 %q を解析できません: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

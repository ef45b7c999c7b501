// Package config は通知サービスの設定を読み込む。
//
// デフォルト値、CONFIG_FILEで指定したYAMLファイル、環境変数の順に上書きし、
// 最後に検証する。プロセス起動時に一度だけ読み込み、以降は変更しない。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ErrInvalidConfig は設定値が不正な場合のエラー。
var ErrInvalidConfig = errors.New("設定値が不正です")

// RecipientPolicy は通知対象ユーザーの選び方。
type RecipientPolicy string

const (
	// PolicyAll は登録済みの全ユーザーを通知対象とする。
	PolicyAll RecipientPolicy = "all"
	// PolicyMentioned は本文で @ メンションされたユーザーのみを通知対象とする。
	PolicyMentioned RecipientPolicy = "mentioned"
)

// Config は通知サービス全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `yaml:"port"`
	// DatabasePath はエンドポイントレジストリのSQLiteファイルパス。
	DatabasePath string `yaml:"database_path"`
	// JWTSecret はAPIトークンの署名鍵。
	JWTSecret string `yaml:"jwt_secret"`
	// AllowedOrigins は端末登録APIのCORS許可オリジン。
	AllowedOrigins []string `yaml:"allowed_origins"`
	// EventStoreURL はポーリング対象のEvent Store。空ならポーリングしない。
	EventStoreURL string `yaml:"eventstore_url"`
	// PollInterval はEvent Storeのポーリング間隔。
	PollInterval Duration `yaml:"poll_interval"`
	// TriggerOnUpdate がtrueの場合、メッセージの更新時にも通知する。
	TriggerOnUpdate bool `yaml:"trigger_on_update"`
	// Delivery はプッシュ配信ゲートウェイの設定。
	Delivery Delivery `yaml:"delivery"`
	// Recipients は通知対象の選び方の設定。
	Recipients Recipients `yaml:"recipients"`
	// Dispatch は配信サイクルの設定。
	Dispatch Dispatch `yaml:"dispatch"`
}

// Delivery はプッシュ配信ゲートウェイの設定。
type Delivery struct {
	// URL はゲートウェイのベースURL。空の場合はログ出力のみのゲートウェイを使う。
	URL string `yaml:"url"`
	// ServerKey はゲートウェイの認証キー。
	ServerKey string `yaml:"server_key"`
	// RatePerSec はゲートウェイ呼び出しの秒間上限。
	RatePerSec int `yaml:"rate_per_sec"`
	// BatchSize は1回の呼び出しに含めるトークン数の上限。
	BatchSize int `yaml:"batch_size"`
	// Timeout は1回の呼び出しのタイムアウト。
	Timeout Duration `yaml:"timeout"`
}

// Recipients は通知対象の選び方の設定。
type Recipients struct {
	// Policy は通知対象の選び方。
	Policy RecipientPolicy `yaml:"policy"`
	// ExcludeAuthor がtrueの場合、投稿者本人を通知対象から外す。
	ExcludeAuthor bool `yaml:"exclude_author"`
}

// Dispatch は配信サイクルの設定。
type Dispatch struct {
	// MaxConcurrency は1サイクル内で同時に処理する受信者数の上限。
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Default はデフォルト設定を返す。
func Default() Config {
	return Config{
		Port:         "8086",
		DatabasePath: "/data/notification.db",
		JWTSecret:    "dev-secret-key",
		PollInterval: Duration(3 * time.Second),
		Delivery: Delivery{
			RatePerSec: 20,
			BatchSize:  500,
			Timeout:    Duration(10 * time.Second),
		},
		Recipients: Recipients{
			Policy: PolicyAll,
		},
		Dispatch: Dispatch{
			MaxConcurrency: 16,
		},
	}
}

// Load は環境変数とCONFIG_FILEから設定を読み込む。
func Load() (Config, error) {
	return load(os.Getenv, os.ReadFile)
}

// load は環境変数の参照とファイル読み込みを差し替え可能にしたLoadの本体。
func load(getenv func(string) string, readFile func(string) ([]byte, error)) (Config, error) {
	cfg := Default()

	if path := getenv("CONFIG_FILE"); path != "" {
		data, err := readFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: 設定ファイルの解析に失敗: %v", ErrInvalidConfig, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv は設定済みの環境変数で値を上書きする。
func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &cfg.Port)
	setString("DATABASE_PATH", &cfg.DatabasePath)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("EVENTSTORE_URL", &cfg.EventStoreURL)
	setString("DELIVERY_URL", &cfg.Delivery.URL)
	setString("DELIVERY_SERVER_KEY", &cfg.Delivery.ServerKey)

	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := getenv("RECIPIENT_POLICY"); v != "" {
		cfg.Recipients.Policy = RecipientPolicy(strings.ToLower(strings.TrimSpace(v)))
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"TRIGGER_ON_UPDATE", &cfg.TriggerOnUpdate},
		{"RECIPIENT_EXCLUDE_AUTHOR", &cfg.Recipients.ExcludeAuthor},
	}
	for _, b := range bools {
		v := getenv(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, b.key, v)
		}
		*b.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DELIVERY_RATE_PER_SEC", &cfg.Delivery.RatePerSec},
		{"DELIVERY_BATCH_SIZE", &cfg.Delivery.BatchSize},
		{"DISPATCH_MAX_CONCURRENCY", &cfg.Dispatch.MaxConcurrency},
	}
	for _, n := range ints {
		v := getenv(n.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, n.key, v)
		}
		*n.dst = parsed
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{"POLL_INTERVAL", &cfg.PollInterval},
		{"DELIVERY_TIMEOUT", &cfg.Delivery.Timeout},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, d.key, v)
		}
		*d.dst = Duration(parsed)
	}
	return nil
}

// Validate は設定値の整合性を検証する。
func (c Config) Validate() error {
	switch c.Recipients.Policy {
	case PolicyAll, PolicyMentioned:
	default:
		return fmt.Errorf("%w: 未知の通知対象ポリシー %q", ErrInvalidConfig, c.Recipients.Policy)
	}
	if c.Port == "" {
		return fmt.Errorf("%w: portが空です", ErrInvalidConfig)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database_pathが空です", ErrInvalidConfig)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: jwt_secretが空です", ErrInvalidConfig)
	}
	if c.Delivery.RatePerSec <= 0 {
		return fmt.Errorf("%w: delivery.rate_per_secは1以上が必要です", ErrInvalidConfig)
	}
	if c.Delivery.BatchSize <= 0 {
		return fmt.Errorf("%w: delivery.batch_sizeは1以上が必要です", ErrInvalidConfig)
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("%w: delivery.timeoutは正の値が必要です", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_intervalは正の値が必要です", ErrInvalidConfig)
	}
	if c.Dispatch.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: dispatch.max_concurrencyは1以上が必要です", ErrInvalidConfig)
	}
	return nil
}

// splitList はカンマ区切りの文字列を分割し、空要素を除く。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

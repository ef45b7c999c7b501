package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// timestampLayouts は文字列の投稿日時として受け付ける書式。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp はメッセージの投稿日時。
// 上流のデータストアはRFC3339文字列、タイムゾーン無しの日時文字列、エポックミリ秒の数値のいずれかで書き込む。
// 配信には使わない値のため、解釈できない値やnullはゼロ値として扱い、エラーにはしない。
type Timestamp struct {
	time.Time
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.Time = time.Time{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		t.Time = parseTimestamp(strings.TrimSpace(s))
		return nil
	}

	var ms float64
	if err := json.Unmarshal(b, &ms); err == nil {
		t.Time = time.UnixMilli(int64(ms)).UTC()
	}
	return nil
}

// MarshalJSON はjson.Marshalerを実装する。ゼロ値はnullになる。
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// parseTimestamp は日時文字列を解釈する。どの書式にも一致しない場合はゼロ値を返す。
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v.UTC()
		}
	}
	return time.Time{}
}

package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeJobMessage はジョブに投稿されたメッセージを表す。
	AggregateTypeJobMessage AggregateType = "JobMessage"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeMessageCreated はメッセージが新規に書き込まれたことを表す。
	TypeMessageCreated Type = "MessageCreated"
	// TypeMessageUpdated は既存のメッセージが上書きされたことを表す。
	TypeMessageUpdated Type = "MessageUpdated"
)

// IsMessageWrite はメッセージ書き込み系のイベントかどうかを返す。
func (t Type) IsMessageWrite() bool {
	return t == TypeMessageCreated || t == TypeMessageUpdated
}

// Event はEvent Storeに永続化される不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// Message はジョブに投稿されたメッセージ。
// データストアが付与した (jobId, messageId) で識別され、作成後は変更されない。
// JSONのキーは上流データストアのレコード形式に合わせている。
type Message struct {
	// Text はメッセージ本文。
	Text string `json:"text"`
	// Type はメッセージの種類（テキスト、画像など）。
	Type string `json:"type"`
	// CreatedBy は投稿者の表示名。
	CreatedBy string `json:"createdBy"`
	// CreatedByUID は投稿者のユーザーID。
	CreatedByUID string `json:"createdByUid"`
	// CreatedOn は投稿日時。
	CreatedOn Timestamp `json:"createdOn"`
}

// MessageWrittenData はMessageCreated/MessageUpdatedイベントのデータ。
// データストア上のパス /jobMessages/{jobId}/{messageId} への書き込みに対応する。
type MessageWrittenData struct {
	// JobID はメッセージが属するジョブのID。
	JobID string `json:"job_id"`
	// MessageID はジョブ内でのメッセージID。
	MessageID string `json:"message_id"`
	// Message は書き込まれたメッセージ本体。
	Message Message `json:"message"`
}

// MessageAggregateID はジョブIDとメッセージIDからAggregateIDを組み立てる。
func MessageAggregateID(jobID, messageID string) string {
	return jobID + "/" + messageID
}

// SplitMessageAggregateID はMessageAggregateIDの逆変換を行う。
func SplitMessageAggregateID(aggregateID string) (jobID, messageID string, err error) {
	jobID, messageID, found := strings.Cut(aggregateID, "/")
	if !found || jobID == "" || messageID == "" {
		return "", "", fmt.Errorf("メッセージのAggregateIDが不正です: %q", aggregateID)
	}
	return jobID, messageID, nil
}

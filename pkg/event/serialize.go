package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// errEmptyData はDataフィールドが空のイベントをデコードしようとした場合のエラー。
var errEmptyData = errors.New("イベントデータが空です")

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(aggregateID string, aggregateType AggregateType, eventType Type, version int64, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// NewMessageWritten はメッセージ書き込みイベントを生成する。
// AggregateIDはジョブIDとメッセージIDから組み立てる。
func NewMessageWritten(eventType Type, data MessageWrittenData) (*Event, error) {
	if !eventType.IsMessageWrite() {
		return nil, fmt.Errorf("メッセージ書き込みイベントではありません: %s", eventType)
	}
	return New(MessageAggregateID(data.JobID, data.MessageID), AggregateTypeJobMessage, eventType, 0, data)
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	if len(e.Data) == 0 {
		return nil, errEmptyData
	}
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

package notification

import (
	"context"
	"fmt"
	"log"

	"github.com/nao1215/pushfanout/internal/dispatch"
	"github.com/nao1215/pushfanout/pkg/event"
)

// Dispatcher はトリガーから呼び出す配信サイクル。
type Dispatcher interface {
	Dispatch(ctx context.Context, msg event.Message) (*dispatch.Report, error)
}

// Result はトリガー1件分の処理結果。
type Result struct {
	// Ignored は配信対象外のイベントとして無視したかどうか。
	Ignored bool
	// Report は配信サイクルの集計結果。無視した場合はnil。
	Report *dispatch.Report
}

// Trigger はメッセージの書き込みイベントを受けて配信サイクルを実行する。
// 配信サイクルの完了を待ってから戻る。
type Trigger struct {
	// dispatcher は配信サイクル。
	dispatcher Dispatcher
	// onUpdate がtrueの場合、メッセージの更新時にも配信する。
	onUpdate bool
}

// NewTrigger は新しいTriggerを生成する。
// onUpdateがfalseの場合、MessageUpdatedイベントは無視して新規作成時のみ配信する。
func NewTrigger(dispatcher Dispatcher, onUpdate bool) *Trigger {
	return &Trigger{dispatcher: dispatcher, onUpdate: onUpdate}
}

// HandleWrite はメッセージの書き込み1件を処理する。
func (t *Trigger) HandleWrite(ctx context.Context, eventType event.Type, w event.MessageWrittenData) (Result, error) {
	switch eventType {
	case event.TypeMessageCreated:
	case event.TypeMessageUpdated:
		if !t.onUpdate {
			log.Printf("[Trigger] 更新イベントのため配信しません: job=%s, message=%s", w.JobID, w.MessageID)
			return Result{Ignored: true}, nil
		}
	default:
		return Result{Ignored: true}, nil
	}

	report, err := t.dispatcher.Dispatch(ctx, w.Message)
	if err != nil {
		return Result{Report: report}, fmt.Errorf("配信に失敗 (job=%s, message=%s): %w", w.JobID, w.MessageID, err)
	}
	return Result{Report: report}, nil
}

// HandleEvent はEvent Storeのイベント1件を処理する。
// JobMessage以外のイベントとメッセージ書き込み以外のイベントは無視する。
func (t *Trigger) HandleEvent(ctx context.Context, e *event.Event) (Result, error) {
	if e.AggregateType != event.AggregateTypeJobMessage || !e.EventType.IsMessageWrite() {
		return Result{Ignored: true}, nil
	}

	data, err := event.DecodeData[event.MessageWrittenData](e)
	if err != nil {
		return Result{}, fmt.Errorf("イベントデータのデシリアライズに失敗 (id=%s): %w", e.ID, err)
	}
	// データにIDが無い場合はAggregateIDから補う
	if data.JobID == "" || data.MessageID == "" {
		jobID, messageID, err := event.SplitMessageAggregateID(e.AggregateID)
		if err != nil {
			return Result{}, err
		}
		data.JobID, data.MessageID = jobID, messageID
	}
	return t.HandleWrite(ctx, e.EventType, *data)
}

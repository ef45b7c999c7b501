package notification

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/nao1215/pushfanout/pkg/event"
	"github.com/nao1215/pushfanout/pkg/httpclient"
)

// Poller はEvent Storeをポーリングし、メッセージの書き込みイベントをTriggerに渡すバックグラウンドプロセス。
// イベントは取得順に1件ずつ処理し、配信サイクルの完了を待ってから次に進む。
type Poller struct {
	// trigger はイベントを処理するトリガー。
	trigger *Trigger
	// client はEvent Storeとの通信用HTTPクライアント。
	client *httpclient.Client
	// interval はポーリング間隔。
	interval time.Duration
	// lastTimestamp は処理済みイベントの最新タイムスタンプ。
	lastTimestamp time.Time
	// mu はlastTimestampへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done はバックグラウンドゴルーチンの終了を通知する。
	done chan struct{}
}

// NewPoller は新しいPollerを生成する。
// since以降に作成されたイベントから処理する。
func NewPoller(trigger *Trigger, eventStoreURL string, interval time.Duration, since time.Time) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		trigger:       trigger,
		client:        httpclient.New(eventStoreURL),
		interval:      interval,
		lastTimestamp: since,
	}
}

// Start はバックグラウンドでEvent Storeのポーリングを開始する。
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		log.Printf("[Poller] Event Storeのポーリングを開始します: %s", p.client.BaseURL())
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Poller] ポーリングを停止しました")
				return
			case <-ticker.C:
				if err := p.Poll(ctx); err != nil {
					log.Printf("[Poller] ポーリングエラー: %v", err)
				}
			}
		}
	}()
}

// Stop はポーリングを停止し、処理中の配信サイクルの完了を待つ。
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Poll はEvent Storeから新しいイベントを取得して処理する。
// 配信サイクルの失敗はログに記録し、次のイベントに進む。
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	since := p.lastTimestamp
	p.mu.Unlock()

	path := "/api/v1/events/since?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	var events []event.Event
	if err := p.client.GetJSON(ctx, path, &events); err != nil {
		return fmt.Errorf("Event Storeからのイベント取得に失敗: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	var latest time.Time
	for i := range events {
		ev := &events[i]
		if ctx.Err() != nil {
			break
		}
		result, err := p.trigger.HandleEvent(ctx, ev)
		if err != nil {
			log.Printf("[Poller] イベント処理エラー (id=%s, type=%s): %v", ev.ID, ev.EventType, err)
		} else if result.Report != nil {
			log.Printf("[Poller] イベントを配信しました (id=%s, cycle=%s)", ev.ID, result.Report.CycleID)
		}
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
	}

	if !latest.IsZero() {
		p.mu.Lock()
		// 同じイベントを再取得しないように1ナノ秒進める
		p.lastTimestamp = latest.Add(time.Nanosecond)
		p.mu.Unlock()
	}
	return nil
}

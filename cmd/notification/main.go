// 通知サービスのエントリポイント。
// ジョブへのメッセージ投稿を受けて、登録済みユーザーの全端末へプッシュ通知を配信する。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/pushfanout/internal/config"
	"github.com/nao1215/pushfanout/internal/delivery"
	"github.com/nao1215/pushfanout/internal/dispatch"
	"github.com/nao1215/pushfanout/internal/notification"
	"github.com/nao1215/pushfanout/internal/recipient"
	"github.com/nao1215/pushfanout/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := registry.Open(ctx, "file:"+cfg.DatabasePath)
	if err != nil {
		log.Fatalf("エンドポイントレジストリの初期化に失敗: %v", err)
	}
	defer store.Close()

	var gateway delivery.Gateway = delivery.LogGateway{}
	if cfg.Delivery.URL != "" {
		gateway = delivery.NewHTTPGateway(delivery.HTTPConfig{
			URL:        cfg.Delivery.URL,
			ServerKey:  cfg.Delivery.ServerKey,
			RatePerSec: cfg.Delivery.RatePerSec,
			BatchSize:  cfg.Delivery.BatchSize,
			Timeout:    cfg.Delivery.Timeout.Std(),
		})
	} else {
		log.Println("DELIVERY_URLが未設定のため、配信内容はログに出力します")
	}

	dispatcher := dispatch.New(store, recipient.NewResolver(cfg.Recipients), gateway, cfg.Dispatch)
	trigger := notification.NewTrigger(dispatcher, cfg.TriggerOnUpdate)

	if cfg.EventStoreURL != "" {
		poller := notification.NewPoller(trigger, cfg.EventStoreURL, cfg.PollInterval.Std(), time.Now().UTC())
		poller.Start(ctx)
		defer poller.Stop()
	}

	server := notification.NewServer(cfg, store, trigger)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("通知サービスを起動します: :%s", cfg.Port)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		log.Printf("通知サービスの起動に失敗: %v", err)
	case <-ctx.Done():
		log.Println("通知サービスを停止します")
	}
}

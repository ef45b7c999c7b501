// Package dispatch は1件のメッセージを受信者の全端末へ配信する配信サイクルを実装する。
//
// 配信サイクルは受信者の解決、受信者ごとの並行タスク（端末の取得、送信、結果の解釈、
// 無効トークンの削除）、全タスクの合流の順に進む。
// 受信者単位・トークン単位の失敗はログに記録するだけで、サイクル全体を失敗させない。
// サイクルが失敗するのは、受信者一覧の取得に失敗した場合と、全受信者の端末取得に失敗した場合のみ。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/pushfanout/internal/compose"
	"github.com/nao1215/pushfanout/internal/config"
	"github.com/nao1215/pushfanout/internal/delivery"
	"github.com/nao1215/pushfanout/internal/recipient"
	"github.com/nao1215/pushfanout/pkg/event"
	"github.com/nao1215/pushfanout/pkg/httpclient"
)

var (
	// ErrRosterUnavailable は受信者一覧を取得できなかった場合のエラー。
	ErrRosterUnavailable = errors.New("受信者一覧を取得できません")
	// ErrRegistryUnavailable は全受信者の端末取得に失敗した場合のエラー。
	ErrRegistryUnavailable = errors.New("エンドポイントレジストリを利用できません")
)

// defaultMaxConcurrency は同時に処理する受信者数のデフォルト上限。
const defaultMaxConcurrency = 16

// Registry は配信サイクルが使うエンドポイントレジストリの操作。
type Registry interface {
	// ListUserIDs は登録済みの全ユーザーIDを返す。
	ListUserIDs(ctx context.Context) ([]string, error)
	// Lookup はユーザーの端末トークン一覧を返す。端末が無い場合は空を返す。
	Lookup(ctx context.Context, userID string) ([]string, error)
	// Revoke はユーザーの端末トークンを1件削除する。存在しない場合も成功とする。
	Revoke(ctx context.Context, userID, token string) error
}

// Report は1回の配信サイクルの集計結果。永続化はしない。
type Report struct {
	// CycleID は配信サイクルの識別子。ログの相関に使う。
	CycleID string `json:"cycle_id"`
	// Recipients は解決した受信者数。
	Recipients int `json:"recipients"`
	// Skipped は端末が登録されていなかった受信者数。
	Skipped int `json:"skipped"`
	// Sent は配信に成功したトークン数。
	Sent int `json:"sent"`
	// Failed は配信に失敗したトークン数。
	Failed int `json:"failed"`
	// Revoked はレジストリから削除したトークン数。
	Revoked int `json:"revoked"`
	// LookupFailures は端末の取得に失敗した受信者数。
	LookupFailures int `json:"lookup_failures"`
}

// recipientResult は受信者1人分の処理結果。
type recipientResult struct {
	lookupFailed bool
	skipped      bool
	sent         int
	failed       int
	revoked      int
}

// Dispatcher は配信サイクルを実行する。
// 生成後は不変で、複数のサイクルから並行に呼び出してよい。
type Dispatcher struct {
	// registry はエンドポイントレジストリ。
	registry Registry
	// resolver は受信者の解決を行う。
	resolver *recipient.Resolver
	// gateway はプッシュ配信ゲートウェイ。
	gateway delivery.Gateway
	// maxConcurrency は同時に処理する受信者数の上限。
	maxConcurrency int
}

// New は新しいDispatcherを生成する。
func New(registry Registry, resolver *recipient.Resolver, gateway delivery.Gateway, cfg config.Dispatch) *Dispatcher {
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = defaultMaxConcurrency
	}
	return &Dispatcher{
		registry:       registry,
		resolver:       resolver,
		gateway:        gateway,
		maxConcurrency: limit,
	}
}

// Dispatch はメッセージを受信者全員の端末へ配信し、全タスクの完了を待って集計結果を返す。
//
// 受信者一覧の取得に失敗した場合はErrRosterUnavailableを返す。
// 受信者が1人以上いて全員の端末取得に失敗した場合は、集計結果とErrRegistryUnavailableを返す。
// ctxがキャンセルされた場合は、全タスクの合流後に集計結果とctxのエラーを返す。
func (d *Dispatcher) Dispatch(ctx context.Context, msg event.Message) (*Report, error) {
	report := &Report{CycleID: uuid.NewString()}
	ctx = httpclient.WithRequestID(ctx, report.CycleID)

	roster, err := d.registry.ListUserIDs(ctx)
	if err != nil {
		log.Printf("[Dispatch] cycle=%s 受信者一覧の取得に失敗: %v", report.CycleID, err)
		return nil, fmt.Errorf("%w: %w", ErrRosterUnavailable, err)
	}
	recipients := d.resolver.Resolve(msg, roster)
	report.Recipients = len(recipients)

	// ペイロードは全受信者で共通
	payload := compose.FromMessage(msg)

	results := make([]recipientResult, len(recipients))
	var g errgroup.Group
	g.SetLimit(d.maxConcurrency)
	for i, userID := range recipients {
		g.Go(func() error {
			results[i] = d.deliver(ctx, report.CycleID, userID, payload)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch {
		case r.lookupFailed:
			report.LookupFailures++
		case r.skipped:
			report.Skipped++
		}
		report.Sent += r.sent
		report.Failed += r.failed
		report.Revoked += r.revoked
	}

	log.Printf("[Dispatch] cycle=%s 完了: recipients=%d skipped=%d sent=%d failed=%d revoked=%d lookup_failures=%d",
		report.CycleID, report.Recipients, report.Skipped, report.Sent, report.Failed, report.Revoked, report.LookupFailures)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("配信サイクルが中断されました: %w", err)
	}
	if report.Recipients > 0 && report.LookupFailures == report.Recipients {
		return report, ErrRegistryUnavailable
	}
	return report, nil
}

// deliver は受信者1人分の端末取得、送信、結果の解釈、無効トークンの削除を行う。
// 失敗はすべてログに記録し、結果として返す。
func (d *Dispatcher) deliver(ctx context.Context, cycleID, userID string, payload compose.Payload) recipientResult {
	var res recipientResult

	tokens, err := d.registry.Lookup(ctx, userID)
	if err != nil {
		log.Printf("[Dispatch] cycle=%s user=%s 端末の取得に失敗: %v", cycleID, userID, err)
		res.lookupFailed = true
		return res
	}
	if len(tokens) == 0 {
		log.Printf("[Dispatch] cycle=%s user=%s 端末が登録されていないためスキップします", cycleID, userID)
		res.skipped = true
		return res
	}

	outcomes, err := d.gateway.Send(ctx, tokens, payload)
	if err == nil && len(outcomes) != len(tokens) {
		err = fmt.Errorf("%w: tokens=%d, outcomes=%d", delivery.ErrResultMismatch, len(tokens), len(outcomes))
	}
	if err != nil {
		log.Printf("[Dispatch] cycle=%s user=%s 配信に失敗: %v", cycleID, userID, err)
		res.failed = len(tokens)
		return res
	}

	var stale []string
	for _, o := range outcomes {
		switch {
		case o.OK():
			res.sent++
		case o.Revocable():
			res.failed++
			stale = append(stale, o.Token)
		default:
			res.failed++
			log.Printf("[Dispatch] cycle=%s user=%s token=%s 一時的な配信エラー: %v", cycleID, userID, o.Token, o.Err)
		}
	}

	res.revoked = d.revokeAll(ctx, cycleID, userID, stale)
	return res
}

// revokeAll は無効になったトークンを並行に削除し、削除できた件数を返す。
// 個々の削除の失敗はログに記録し、他の削除は継続する。
func (d *Dispatcher) revokeAll(ctx context.Context, cycleID, userID string, tokens []string) int {
	var revoked atomic.Int32
	var g errgroup.Group
	for _, token := range tokens {
		g.Go(func() error {
			if err := d.registry.Revoke(ctx, userID, token); err != nil {
				log.Printf("[Dispatch] cycle=%s user=%s token=%s トークンの削除に失敗: %v", cycleID, userID, token, err)
				return nil
			}
			log.Printf("[Dispatch] cycle=%s user=%s token=%s 無効なトークンを削除しました", cycleID, userID, token)
			revoked.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(revoked.Load())
}

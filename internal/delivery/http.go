package delivery

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/pushfanout/internal/compose"
	"github.com/nao1215/pushfanout/pkg/httpclient"
)

// sendPath はゲートウェイの送信エンドポイント。
const sendPath = "/send"

// HTTPGateway はHTTP経由でプッシュ配信ゲートウェイを呼び出す。
// 呼び出しはレート制限し、トークンはバッチサイズごとに分割して送る。
type HTTPGateway struct {
	// client はゲートウェイへのHTTPクライアント。
	client *httpclient.Client
	// limiter はゲートウェイ呼び出しのレート制限。
	limiter *rate.Limiter
	// batchSize は1回の呼び出しに含めるトークン数の上限。
	batchSize int
}

// HTTPConfig はHTTPGatewayの設定。
type HTTPConfig struct {
	// URL はゲートウェイのベースURL。
	URL string
	// ServerKey は "Authorization: key=<ServerKey>" として送る認証キー。
	ServerKey string
	// RatePerSec は秒間の呼び出し上限。
	RatePerSec int
	// BatchSize は1回の呼び出しに含めるトークン数の上限。
	BatchSize int
	// Timeout は1回の呼び出しのタイムアウト。
	Timeout time.Duration
}

// NewHTTPGateway は新しいHTTPGatewayを生成する。
func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	opts := []httpclient.Option{httpclient.WithTimeout(cfg.Timeout)}
	if cfg.ServerKey != "" {
		opts = append(opts, httpclient.WithHeader("Authorization", "key="+cfg.ServerKey))
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &HTTPGateway{
		client:    httpclient.New(cfg.URL, opts...),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		batchSize: cfg.BatchSize,
	}
}

// sendRequest はゲートウェイへの送信リクエストのJSON構造。
type sendRequest struct {
	// Tokens は配信先のトークン一覧。
	Tokens []string `json:"tokens"`
	// Notification は通知内容。
	Notification compose.Payload `json:"notification"`
}

// sendResponse はゲートウェイからの送信レスポンスのJSON構造。
type sendResponse struct {
	// Results はトークンと同じ順序の配信結果。
	Results []sendResult `json:"results"`
}

// sendResult はトークン1件分の配信結果のJSON構造。
type sendResult struct {
	// MessageID は成功時にゲートウェイが採番したID。
	MessageID string `json:"message_id,omitempty"`
	// Error は失敗時のエラー。
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Send はトークンをバッチに分けてゲートウェイに送信し、トークンごとの結果を返す。
// あるバッチの呼び出しに失敗した場合、そのバッチのトークンは一時的な失敗として扱う。
func (g *HTTPGateway) Send(ctx context.Context, tokens []string, payload compose.Payload) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(tokens))
	for start := 0; start < len(tokens); start += g.batchSize {
		end := min(start+g.batchSize, len(tokens))
		outcomes = append(outcomes, g.sendBatch(ctx, tokens[start:end], payload)...)
	}
	return outcomes, nil
}

// sendBatch は1回分のゲートウェイ呼び出しを行う。
func (g *HTTPGateway) sendBatch(ctx context.Context, tokens []string, payload compose.Payload) []Outcome {
	if err := g.limiter.Wait(ctx); err != nil {
		return failAll(tokens, CodeUnavailable, fmt.Errorf("レート制限の待機を中断: %w", err))
	}

	var resp sendResponse
	req := sendRequest{Tokens: tokens, Notification: payload}
	if err := g.client.PostJSON(ctx, sendPath, req, &resp); err != nil {
		log.Printf("[Delivery] ゲートウェイ呼び出しに失敗: tokens=%d, error=%v", len(tokens), err)
		return failAll(tokens, CodeUnavailable, err)
	}
	if len(resp.Results) != len(tokens) {
		err := fmt.Errorf("%w: tokens=%d, results=%d", ErrResultMismatch, len(tokens), len(resp.Results))
		log.Printf("[Delivery] %v", err)
		return failAll(tokens, CodeInternal, err)
	}

	outcomes := make([]Outcome, len(tokens))
	for i, token := range tokens {
		outcomes[i] = Outcome{Token: token}
		if e := resp.Results[i].Error; e != nil {
			outcomes[i].Err = &SendError{Code: ParseErrorCode(e.Code), Message: e.Message}
		}
	}
	return outcomes
}

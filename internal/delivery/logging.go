package delivery

import (
	"context"
	"log"

	"github.com/nao1215/pushfanout/internal/compose"
)

// LogGateway は送信内容をログに出力するだけのゲートウェイ。
// 配信ゲートウェイを設定していないローカル環境で使う。すべての送信を成功とする。
type LogGateway struct{}

// Send はトークンごとに送信内容をログに出力する。
func (LogGateway) Send(ctx context.Context, tokens []string, payload compose.Payload) ([]Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, len(tokens))
	for i, token := range tokens {
		log.Printf("[Delivery] (log) token=%s title=%q body=%q", token, payload.Title, payload.Body)
		outcomes[i] = Outcome{Token: token}
	}
	return outcomes, nil
}

// Package recipient はメッセージごとの通知対象ユーザーを決定する。
package recipient

import (
	"strings"
	"unicode"

	"github.com/nao1215/pushfanout/internal/config"
	"github.com/nao1215/pushfanout/pkg/event"
)

// Resolver はメッセージとユーザー名簿から通知対象を選ぶ。
// 副作用を持たず、同じ入力には同じ結果を返す。
type Resolver struct {
	policy        config.RecipientPolicy
	excludeAuthor bool
}

// NewResolver は新しいResolverを生成する。policyが空の場合は全ユーザーを対象とする。
func NewResolver(cfg config.Recipients) *Resolver {
	policy := cfg.Policy
	if policy == "" {
		policy = config.PolicyAll
	}
	return &Resolver{policy: policy, excludeAuthor: cfg.ExcludeAuthor}
}

// Resolve は通知対象のユーザーIDを名簿の順序で返す。重複は除く。
// 名簿が空の場合は空のスライスを返す。
func (r *Resolver) Resolve(msg event.Message, roster []string) []string {
	var mentioned map[string]struct{}
	if r.policy == config.PolicyMentioned {
		mentioned = Mentions(msg.Text)
	}

	seen := make(map[string]struct{}, len(roster))
	out := make([]string, 0, len(roster))
	for _, userID := range roster {
		if userID == "" {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		if r.excludeAuthor && userID == msg.CreatedByUID {
			continue
		}
		if mentioned != nil {
			if _, ok := mentioned[userID]; !ok {
				continue
			}
		}
		out = append(out, userID)
	}
	return out
}

// Mentions は本文中の "@<userId>" 形式のメンションを集める。
// ユーザーIDは空白と一般的な句読点で区切る。"." はIDに含まれうるため区切らず、末尾の "." だけを取り除く。
func Mentions(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, field := range strings.FieldsFunc(text, isMentionSeparator) {
		id, ok := strings.CutPrefix(field, "@")
		if !ok {
			continue
		}
		id = strings.TrimRight(strings.TrimLeft(id, "@"), ".")
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

func isMentionSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case ',', '!', '?', ';', ':', '(', ')', '[', ']', '"', '\'', '、', '。':
		return true
	}
	return false
}

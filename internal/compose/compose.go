// Package compose はメッセージからプッシュ通知のペイロードを組み立てる。
package compose

import "github.com/nao1215/pushfanout/pkg/event"

// DefaultTitle は投稿者の表示名が無い場合のタイトル。
const DefaultTitle = "Notification"

// Payload はプッシュ通知の内容。配信ごとに生成し、永続化しない。
type Payload struct {
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知の本文。
	Body string `json:"body"`
}

// FromMessage はメッセージからペイロードを生成する。
// タイトルは投稿者の表示名、本文はメッセージ本文をそのまま使う。
// 本文が空でもエラーにはせず、空の本文のまま返す。
func FromMessage(msg event.Message) Payload {
	title := msg.CreatedBy
	if title == "" {
		title = DefaultTitle
	}
	return Payload{Title: title, Body: msg.Text}
}

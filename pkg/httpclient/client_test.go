package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// pushRequest は配信ゲートウェイ宛てのリクエストを模した構造体。
type pushRequest struct {
	Tokens       []string          `json:"tokens"`
	Notification map[string]string `json:"notification"`
}

// pushResponse は配信ゲートウェイのレスポンスを模した構造体。
type pushResponse struct {
	Results []map[string]any `json:"results"`
}

// TestNew はNewとオプションの適用を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		opts        []Option
		wantTimeout time.Duration
	}{
		{name: "オプション無しはデフォルトのタイムアウト", wantTimeout: defaultTimeout},
		{name: "WithTimeoutで上書きできること", opts: []Option{WithTimeout(10 * time.Second)}, wantTimeout: 10 * time.Second},
		{name: "0以下のタイムアウトは無視されること", opts: []Option{WithTimeout(0)}, wantTimeout: defaultTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := New("http://gateway:9000", tt.opts...)
			if client.BaseURL() != "http://gateway:9000" {
				t.Errorf("BaseURL() = %q", client.BaseURL())
			}
			if client.httpClient.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", client.httpClient.Timeout, tt.wantTimeout)
			}
		})
	}
}

// TestPostJSON_Gateway は配信ゲートウェイへの送信で使うヘッダーとボディを検証する。
func TestPostJSON_Gateway(t *testing.T) {
	t.Parallel()

	var (
		gotAuth      string
		gotRequestID string
		gotType      string
		gotReq       pushRequest
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/send" {
			t.Errorf("リクエストが不正: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get(HeaderRequestID)
		gotType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("リクエストボディのデコードに失敗: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"message_id":"m1"},{"error":{"code":"messaging/registration-token-not-registered"}}]}`))
	}))
	t.Cleanup(ts.Close)

	client := New(ts.URL, WithHeader("Authorization", "key=server-key"))
	ctx := WithRequestID(context.Background(), "cycle-123")
	req := pushRequest{Tokens: []string{"t1", "t2"}, Notification: map[string]string{"title": "Alice", "body": "hi"}}

	var resp pushResponse
	if err := client.PostJSON(ctx, "/send", req, &resp); err != nil {
		t.Fatalf("PostJSON()でエラーが発生: %v", err)
	}

	if gotAuth != "key=server-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "key=server-key")
	}
	if gotRequestID != "cycle-123" {
		t.Errorf("%s = %q, want %q", HeaderRequestID, gotRequestID, "cycle-123")
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if len(gotReq.Tokens) != 2 || gotReq.Notification["title"] != "Alice" {
		t.Errorf("送信ボディ = %+v", gotReq)
	}
	if len(resp.Results) != 2 || resp.Results[0]["message_id"] != "m1" {
		t.Errorf("レスポンス = %+v", resp)
	}
}

// TestGetJSON_EventsSince はEvent Storeのポーリングで使うクエリ文字列の受け渡しを検証する。
func TestGetJSON_EventsSince(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, 5, 1, 12, 0, 0, 1, time.UTC).Format(time.RFC3339Nano)

	var gotSince, gotRequestID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/events/since" {
			t.Errorf("リクエストが不正: %s %s", r.Method, r.URL.Path)
		}
		gotSince = r.URL.Query().Get("since")
		gotRequestID = r.Header.Get(HeaderRequestID)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"ev-1"},{"id":"ev-2"}]`))
	}))
	t.Cleanup(ts.Close)

	var events []struct {
		ID string `json:"id"`
	}
	path := "/api/v1/events/since?since=" + url.QueryEscape(since)
	if err := New(ts.URL).GetJSON(context.Background(), path, &events); err != nil {
		t.Fatalf("GetJSON()でエラーが発生: %v", err)
	}
	if gotSince != since {
		t.Errorf("since = %q, want %q", gotSince, since)
	}
	if gotRequestID != "" {
		t.Errorf("リクエストIDを設定していないのに %s = %q", HeaderRequestID, gotRequestID)
	}
	if len(events) != 2 || events[1].ID != "ev-2" {
		t.Errorf("events = %+v", events)
	}
}

// TestDoJSON_Errors は呼び出し失敗時のエラーを検証する。
func TestDoJSON_Errors(t *testing.T) {
	t.Parallel()

	t.Run("2xx以外はStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		}))
		t.Cleanup(ts.Close)

		err := New(ts.URL).PostJSON(context.Background(), "/send", pushRequest{}, nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("StatusErrorが返るべきだが、%v が返った", err)
		}
		if statusErr.StatusCode != http.StatusServiceUnavailable || statusErr.Body != `{"error":"unavailable"}` {
			t.Errorf("StatusError = %+v", statusErr)
		}
	})

	t.Run("不正なJSONレスポンスはエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{invalid json}`))
		}))
		t.Cleanup(ts.Close)

		var resp pushResponse
		if err := New(ts.URL).GetJSON(context.Background(), "/api/v1/events/since", &resp); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("キャンセル済みのコンテキストはエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		t.Cleanup(ts.Close)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := New(ts.URL).PostJSON(ctx, "/send", pushRequest{}, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})

	t.Run("シリアライズできないボディはエラーになること", func(t *testing.T) {
		t.Parallel()

		if err := New("http://127.0.0.1:1").PostJSON(context.Background(), "/send", make(chan int), nil); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("接続できないサーバーはエラーになること", func(t *testing.T) {
		t.Parallel()

		if err := New("http://127.0.0.1:1").GetJSON(context.Background(), "/health", nil); err == nil {
			t.Error("エラーが返されなかった")
		}
	})
}

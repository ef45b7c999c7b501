package registry

import (
	"fmt"
	"slices"
	"sync"
	"testing"
)

// setupTestStore はテスト用のStoreをインメモリSQLiteで構築する。
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.Context(), ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// registerTokens はテスト用にトークンをまとめて登録するヘルパー関数。
func registerTokens(t *testing.T, s *Store, userID string, tokens ...string) {
	t.Helper()
	for _, token := range tokens {
		if err := s.Register(t.Context(), userID, token); err != nil {
			t.Fatalf("トークン %s の登録に失敗: %v", token, err)
		}
	}
}

// TestLookup はLookupを検証する。
func TestLookup(t *testing.T) {
	t.Parallel()

	t.Run("存在しないユーザーは空集合を返しエラーにならないこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		tokens, err := s.Lookup(t.Context(), "unknown")
		if err != nil {
			t.Fatalf("Lookup()でエラーが発生: %v", err)
		}
		if tokens == nil || len(tokens) != 0 {
			t.Errorf("tokens = %v, want empty slice", tokens)
		}
	})

	t.Run("トークンの無い名簿ユーザーは空集合を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		if err := s.AddUser(t.Context(), "u1"); err != nil {
			t.Fatalf("AddUser()でエラーが発生: %v", err)
		}
		tokens, err := s.Lookup(t.Context(), "u1")
		if err != nil {
			t.Fatalf("Lookup()でエラーが発生: %v", err)
		}
		if len(tokens) != 0 {
			t.Errorf("tokens = %v, want empty", tokens)
		}
	})

	t.Run("登録したトークンがユーザーごとに返ること", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		registerTokens(t, s, "u2", "t1", "t2")
		registerTokens(t, s, "u3", "t1")

		tokens, err := s.Lookup(t.Context(), "u2")
		if err != nil {
			t.Fatalf("Lookup()でエラーが発生: %v", err)
		}
		slices.Sort(tokens)
		if !slices.Equal(tokens, []string{"t1", "t2"}) {
			t.Errorf("tokens = %v, want [t1 t2]", tokens)
		}
	})

	t.Run("クローズ後はエラーを返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)
		s.Close()

		if _, err := s.Lookup(t.Context(), "u1"); err == nil {
			t.Fatal("Lookup()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestRegister はRegisterを検証する。
func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("同じトークンを二重登録しても1件のままであること", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		registerTokens(t, s, "u1", "t1", "t1")

		tokens, err := s.Lookup(t.Context(), "u1")
		if err != nil {
			t.Fatalf("Lookup()でエラーが発生: %v", err)
		}
		if !slices.Equal(tokens, []string{"t1"}) {
			t.Errorf("tokens = %v, want [t1]", tokens)
		}
	})

	t.Run("登録したユーザーが名簿に追加されること", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		registerTokens(t, s, "u1", "t1")
		if err := s.AddUser(t.Context(), "u2"); err != nil {
			t.Fatalf("AddUser()でエラーが発生: %v", err)
		}
		if err := s.AddUser(t.Context(), "u2"); err != nil {
			t.Fatalf("2回目のAddUser()でエラーが発生: %v", err)
		}

		ids, err := s.ListUserIDs(t.Context())
		if err != nil {
			t.Fatalf("ListUserIDs()でエラーが発生: %v", err)
		}
		slices.Sort(ids)
		if !slices.Equal(ids, []string{"u1", "u2"}) {
			t.Errorf("ids = %v, want [u1 u2]", ids)
		}
	})

	t.Run("空のユーザーIDやトークンはErrInvalidArgumentになること", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		if err := s.Register(t.Context(), "", "t1"); err != ErrInvalidArgument {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
		if err := s.Register(t.Context(), "u1", ""); err != ErrInvalidArgument {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
		if err := s.AddUser(t.Context(), ""); err != ErrInvalidArgument {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

// TestListUserIDs は空の名簿を検証する。
func TestListUserIDs(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)

	ids, err := s.ListUserIDs(t.Context())
	if err != nil {
		t.Fatalf("ListUserIDs()でエラーが発生: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}

// TestRevoke はRevokeを検証する。
func TestRevoke(t *testing.T) {
	t.Parallel()

	t.Run("同じトークンを2回削除しても1回削除した場合と同じ結果になること", func(t *testing.T) {
		t.Parallel()
		once := setupTestStore(t)
		twice := setupTestStore(t)

		for _, s := range []*Store{once, twice} {
			registerTokens(t, s, "u1", "t1", "t2")
		}
		if err := once.Revoke(t.Context(), "u1", "t1"); err != nil {
			t.Fatalf("Revoke()でエラーが発生: %v", err)
		}
		for range 2 {
			if err := twice.Revoke(t.Context(), "u1", "t1"); err != nil {
				t.Fatalf("Revoke()でエラーが発生: %v", err)
			}
		}

		got1, _ := once.Lookup(t.Context(), "u1")
		got2, _ := twice.Lookup(t.Context(), "u1")
		if !slices.Equal(got1, got2) || !slices.Equal(got1, []string{"t2"}) {
			t.Errorf("1回削除 = %v, 2回削除 = %v, want [t2]", got1, got2)
		}
	})

	t.Run("存在しないトークンやユーザーの削除はエラーにならないこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		if err := s.Revoke(t.Context(), "nobody", "missing"); err != nil {
			t.Errorf("Revoke()でエラーが発生: %v", err)
		}
	})

	t.Run("他ユーザーの同名トークンは削除されないこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		registerTokens(t, s, "u1", "shared")
		registerTokens(t, s, "u2", "shared")
		if err := s.Revoke(t.Context(), "u1", "shared"); err != nil {
			t.Fatalf("Revoke()でエラーが発生: %v", err)
		}

		tokens, _ := s.Lookup(t.Context(), "u2")
		if !slices.Equal(tokens, []string{"shared"}) {
			t.Errorf("u2のtokens = %v, want [shared]", tokens)
		}
	})

	t.Run("同一ユーザーの別トークンを同時に削除しても更新が失われないこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestStore(t)

		const n = 50
		var all []string
		for i := range n {
			all = append(all, fmt.Sprintf("t%02d", i))
		}
		registerTokens(t, s, "u1", all...)
		registerTokens(t, s, "u1", "keep")

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for _, token := range all {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Revoke(t.Context(), "u1", token)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("並行Revoke()でエラーが発生: %v", err)
			}
		}

		tokens, err := s.Lookup(t.Context(), "u1")
		if err != nil {
			t.Fatalf("Lookup()でエラーが発生: %v", err)
		}
		if !slices.Equal(tokens, []string{"keep"}) {
			t.Errorf("tokens = %v, want [keep]", tokens)
		}
	})
}

// TestWithPragmas は接続パラメータの付与を検証する。
func TestWithPragmas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{name: "インメモリはそのまま", dsn: ":memory:", want: ":memory:"},
		{name: "クエリ無しのファイル", dsn: "file:/data/n.db", want: "file:/data/n.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{name: "クエリ付きのファイル", dsn: "file:/data/n.db?mode=rw", want: "file:/data/n.db?mode=rw&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := withPragmas(tt.dsn); got != tt.want {
				t.Errorf("withPragmas(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

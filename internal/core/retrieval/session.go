package retrieval

import (
	"strings"
	"sync/atomic"
)

// Session は検索スコープとなるセッションを表す
// 「現在のセッション」「送信中」といったグローバル状態の代わりに、呼び出しごとに明示的に渡す
type Session struct {
	ID string

	inFlight atomic.Bool
}

// NewSession は新しい Session を作成する
func NewSession(id string) *Session {
	return &Session{ID: strings.TrimSpace(id)}
}

// TryBegin は質問の送信開始を記録する。文書の取り込みは対象外
// 既に実行中のリクエストがある場合は false を返す（実行中の処理はキャンセルしない）
func (s *Session) TryBegin() bool {
	return s.inFlight.CompareAndSwap(false, true)
}

// End はリクエストの終了を記録する
func (s *Session) End() {
	s.inFlight.Store(false)
}

// InFlight はリクエストが実行中かどうかを返す
func (s *Session) InFlight() bool {
	return s.inFlight.Load()
}

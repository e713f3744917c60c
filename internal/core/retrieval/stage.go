package retrieval

// Stage は取り込み処理の段階
type Stage string

const (
	StageIdle      Stage = "idle"
	StageReading   Stage = "reading"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"

	// 質問処理の段階（OperationError.Stage 用）
	StageEmbeddingQuery Stage = "embedding query"
	StageRanking        Stage = "ranking"
)

// StageTransition は段階遷移1回分を表す
type StageTransition struct {
	SessionID  string
	DocumentID string
	From       Stage
	To         Stage
	// Err は To が StageFailed の場合のみ設定される
	Err error
}

// StageObserver は段階遷移の通知を受け取る
type StageObserver func(StageTransition)

// stageTracker は1回の取り込みの段階を追跡する
type stageTracker struct {
	sessionID  string
	documentID string
	current    Stage
	observer   StageObserver
}

func (t *stageTracker) enter(next Stage) {
	t.transition(next, nil)
}

func (t *stageTracker) fail(err error) {
	t.transition(StageFailed, err)
}

func (t *stageTracker) transition(next Stage, err error) {
	prev := t.current
	t.current = next
	if t.observer != nil {
		t.observer(StageTransition{
			SessionID:  t.sessionID,
			DocumentID: t.documentID,
			From:       prev,
			To:         next,
			Err:        err,
		})
	}
}

// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// セッションは認証バックエンドが発行し、期限を過ぎた行はこのジョブがまとめて削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionStore は期限切れセッションを削除できるストア。
// repository.SessionRepositoryが実装する。
type SessionStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Recorder は削除件数を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordSessionsPurged(n int64)
}

// DefaultInterval は削除ジョブの実行間隔のデフォルト値。
const DefaultInterval = time.Hour

// SessionPurgeJob は期限切れセッションの削除ジョブ。冪等であり、削除対象がなくてもエラーにならない。
type SessionPurgeJob struct {
	sessions SessionStore
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// Option はSessionPurgeJobの設定関数。
type Option func(*SessionPurgeJob)

// WithRecorder は削除件数の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(j *SessionPurgeJob) { j.recorder = r }
}

// WithClock は期限の判定に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(j *SessionPurgeJob) { j.now = now }
}

// NewSessionPurgeJob はSessionPurgeJobを生成する。
func NewSessionPurgeJob(sessions SessionStore, logger *slog.Logger, opts ...Option) *SessionPurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	j := &SessionPurgeJob{sessions: sessions, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run は現在時刻までに期限が切れたセッションを1回削除し、削除件数を返す。
func (j *SessionPurgeJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx, j.now().UTC())
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deleted)
	}
	j.logger.Info("期限切れセッションの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *SessionPurgeJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッション削除ジョブを開始しました", slog.Duration("interval", interval))

	// 失敗はRun内でログに残し、次の周期で再実行する
	j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッション削除ジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

// Package dbtest はPostgreSQLを使う統合テストの共通準備を提供する。
package dbtest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	once      sync.Once
	sharedURL string
	startErr  error
)

// URL はテスト用データベースのURLを返す。
// TEST_DATABASE_URL が設定されていればそれを使用する。
// 未設定で TEST_INTEGRATION が設定されている場合はtestcontainersでPostgreSQLを起動する。
// どちらも未設定の場合はテストをスキップする。
// コンテナはテストバイナリ内で1つだけ起動し、プロセス終了時に破棄される。
func URL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("統合テストをスキップ: TEST_DATABASE_URL / TEST_INTEGRATION が未設定")
	}

	once.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"docker.io/postgres:17-alpine",
			postgres.WithDatabase("articledesk_test"),
			postgres.WithUsername("articledesk"),
			postgres.WithPassword("articledesk"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			startErr = err
			return
		}
		sharedURL, startErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if startErr != nil {
		t.Fatalf("PostgreSQLコンテナの起動に失敗: %v", startErr)
	}
	return sharedURL
}

package app

import (
	"errors"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの削除ワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandOperator はオペレーターアカウントを作成（またはパスワードを再設定）することを示す。
	CommandOperator Command = "operator"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "operator":
		return CommandOperator
	default:
		return CommandServe
	}
}

// operatorArgs はoperatorサブコマンドの引数。
type operatorArgs struct {
	email    string
	password string
	name     string
}

var errOperatorUsage = errors.New("usage: articledesk operator <email> <password> [name]")

// parseOperatorArgs は operator <email> <password> [name] の引数を解析する。
// nameを省略した場合はメールアドレスのローカル部を使う。
func parseOperatorArgs(args []string) (operatorArgs, error) {
	if len(args) < 2 || len(args) > 3 {
		return operatorArgs{}, errOperatorUsage
	}
	op := operatorArgs{
		email:    strings.TrimSpace(args[0]),
		password: args[1],
	}
	if op.email == "" || !strings.Contains(op.email, "@") || op.password == "" {
		return operatorArgs{}, errOperatorUsage
	}
	if len(args) == 3 {
		op.name = strings.TrimSpace(args[2])
	}
	if op.name == "" {
		op.name, _, _ = strings.Cut(op.email, "@")
	}
	return op, nil
}

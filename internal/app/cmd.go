package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTPサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCreateUser はローカルアカウントを登録することを示す。
	CommandCreateUser Command = "create-user"
	// CommandVerifyUser はローカルアカウントの認証情報を検証することを示す。
	CommandVerifyUser Command = "verify-user"
	// CommandShowUser はローカルアカウントをIDまたはメールアドレスで表示することを示す。
	CommandShowUser Command = "show-user"
	// CommandPruneSessions は期限切れセッションを削除することを示す。
	CommandPruneSessions Command = "prune-sessions"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandServe, CommandMigrate, CommandCreateUser, CommandVerifyUser, CommandShowUser,
		CommandPruneSessions, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}

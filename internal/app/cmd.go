package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandMigrate は未適用のマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandStatus は適用済みスキーマのバージョンをログに出力して終了する。
	CommandStatus Command = "status"
	// CommandHealthcheck は稼働中サーバーの/healthを叩く。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandMigrate):     CommandMigrate,
	string(CommandStatus):      CommandStatus,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭引数をサブコマンドとして解釈する。
// 引数なしや未知のコマンドはserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// needsConfig はサブコマンドが環境変数の設定一式を必要とするかを返す。
func (c Command) needsConfig() bool {
	return c != CommandHealthcheck
}

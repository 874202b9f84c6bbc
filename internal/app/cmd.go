package app

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は管理画面サーバーとして起動する。引数省略時の既定。
	CommandServe Command = "serve"
	// CommandWorker はエピソード取得ジョブを処理するワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの/healthを叩いて終了する。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンド一覧を表示する。
	CommandHelp Command = "help"
)

// commands は表示順を保ったサブコマンド一覧。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "管理画面HTTPサーバーを起動する（既定）"},
	{CommandWorker, "エピソード取得ジョブを購読して処理する"},
	{CommandMigrate, "未適用のマイグレーションを適用する"},
	{CommandHealthcheck, "SERVER_PORTの/healthを確認する"},
	{CommandHelp, "このヘルプを表示する"},
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServe、未知のサブコマンドはエラーを返す。2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	switch args[0] {
	case "-h", "--help":
		return CommandHelp, nil
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", args[0])
}

// writeUsage はサブコマンド一覧を出力する。
func writeUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: podcastadmin [command]")
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.cmd, c.desc)
	}
	tw.Flush()
}

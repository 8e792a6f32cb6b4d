// Command postboard は投稿掲示板のAPIサーバー、ワーカー、管理コマンドを起動する。
//
// 使い方:
//
//	postboard [serve]                       HTTPサーバーを起動する
//	postboard worker                        期限切れセッションのクリーンアップを定期実行する
//	postboard migrate                       データベースマイグレーションを適用する
//	postboard create-user <name> <password> ローカルユーザーを作成する
//	postboard healthcheck                   /healthに問い合わせる
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/postboard/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

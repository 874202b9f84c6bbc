// Command podcastadmin はポッドキャスト管理画面とエピソード取得ワーカーを起動する。
//
//	podcastadmin [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/podcastadmin/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "podcastadmin: %v\n", err)
		os.Exit(1)
	}
}

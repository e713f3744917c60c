package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/doc-rag/internal/app/cli"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "session",
		Usage:    "セッションID",
		Required: true,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "doc-rag",
		Usage: "文書の取り込みと関連チャンク検索を行う RAG コア",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "ファイルまたはディレクトリを取り込む",
				Flags: []cli.Flag{
					envFlag(),
					sessionFlag(),
					&cli.StringFlag{
						Name:     "path",
						Usage:    "取り込むファイルまたはディレクトリのパス",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "document",
						Usage: "ドキュメントID（単一ファイルのみ。省略時はファイル名）",
					},
					&cli.BoolFlag{
						Name:  "replace",
						Usage: "既存のチャンクを削除してから取り込む",
					},
				},
				Action: appcli.IngestAction,
			},
			{
				Name:      "retrieve",
				Usage:     "質問に関連するチャンクを検索する",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					envFlag(),
					sessionFlag(),
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "取得件数（0 の場合は設定値）",
					},
					&cli.BoolFlag{
						Name:  "context",
						Usage: "プロンプト用のコンテキストブロックとして出力する",
					},
				},
				Action: appcli.RetrieveAction,
			},
			{
				Name:  "session",
				Usage: "セッション管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "セッションのチャンク数を表示",
						Flags:  []cli.Flag{envFlag(), sessionFlag()},
						Action: appcli.SessionShowAction,
					},
					{
						Name:   "clear",
						Usage:  "セッションの全チャンクを削除",
						Flags:  []cli.Flag{envFlag(), sessionFlag()},
						Action: appcli.SessionClearAction,
					},
				},
			},
			{
				Name:  "document",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "delete",
						Usage: "セッション内のドキュメントを削除",
						Flags: []cli.Flag{
							envFlag(),
							sessionFlag(),
							&cli.StringFlag{
								Name:     "document",
								Usage:    "ドキュメントID",
								Required: true,
							},
						},
						Action: appcli.DocumentDeleteAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

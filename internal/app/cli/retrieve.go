package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// 表示時に本文を切り詰める文字数
const previewRunes = 60

// RetrieveAction は関連チャンク検索コマンドのアクション
func RetrieveAction(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.String("session")
	topK := int(cmd.Int("top-k"))
	asContext := cmd.Bool("context")
	envFile := cmd.String("env")

	// 質問文の取得
	question := cmd.Args().First()
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}
	session, err := requireSession(sessionID)
	if err != nil {
		return err
	}

	slog.Info("関連チャンク検索を開始",
		"session", session.ID,
		"question", question,
		"topK", topK,
	)

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := executeRetrieve(ctx, os.Stdout, appCtx.Service(), session, question, topK, asContext); err != nil {
		return userFacingError(appCtx.Logger(), err)
	}

	appCtx.Logger().Info("関連チャンク検索が完了しました")
	return nil
}

// executeRetrieve は検索結果を表形式またはコンテキストブロックとして出力する
func executeRetrieve(ctx context.Context, w io.Writer, svc *retrieval.Service, session *retrieval.Session, question string, topK int, asContext bool) error {
	if asContext {
		result, err := svc.BuildContext(ctx, session, question, topK)
		if err != nil {
			return err
		}
		if result.Block == "" {
			fmt.Fprintln(w, "関連する文書は見つかりませんでした")
			return nil
		}
		fmt.Fprint(w, result.Block)
		return nil
	}

	chunks, err := svc.RetrieveContext(ctx, session, question, topK)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Fprintln(w, "関連する文書は見つかりませんでした")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Rank", "Score", "Document", "Chunk", "Text")
	for i, c := range chunks {
		table.Append(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.4f", c.Score),
			c.DocumentID,
			fmt.Sprintf("%d", c.ChunkIndex),
			preview(c.Text),
		)
	}
	table.Render()
	return nil
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}

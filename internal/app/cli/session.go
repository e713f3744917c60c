package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// SessionShowAction はセッションの状態を表示するコマンドのアクション
func SessionShowAction(ctx context.Context, cmd *cli.Command) error {
	session, err := requireSession(cmd.String("session"))
	if err != nil {
		return err
	}
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := executeSessionShow(ctx, os.Stdout, appCtx.Service(), session, string(appCtx.Config.Store.Backend)); err != nil {
		return userFacingError(appCtx.Logger(), err)
	}
	return nil
}

func executeSessionShow(ctx context.Context, w io.Writer, svc *retrieval.Service, session *retrieval.Session, backend string) error {
	count, err := svc.CountChunks(ctx, session)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("項目", "値")
	table.Append("セッションID", session.ID)
	table.Append("ストア", backend)
	table.Append("チャンク数", fmt.Sprintf("%d", count))
	table.Append("RAG", fmt.Sprintf("%t", svc.Enabled()))
	table.Render()
	return nil
}

// SessionClearAction はセッションの全チャンクを削除するコマンドのアクション
func SessionClearAction(ctx context.Context, cmd *cli.Command) error {
	session, err := requireSession(cmd.String("session"))
	if err != nil {
		return err
	}
	envFile := cmd.String("env")

	slog.Info("セッションのクリアを開始", "session", session.ID)

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Service().ClearSession(ctx, session); err != nil {
		return userFacingError(appCtx.Logger(), err)
	}

	fmt.Printf("セッション %s をクリアしました\n", session.ID)
	return nil
}

// DocumentDeleteAction はセッション内の1文書を削除するコマンドのアクション
func DocumentDeleteAction(ctx context.Context, cmd *cli.Command) error {
	session, err := requireSession(cmd.String("session"))
	if err != nil {
		return err
	}
	documentID := cmd.String("document")
	envFile := cmd.String("env")

	slog.Info("文書の削除を開始", "session", session.ID, "document", documentID)

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Service().DeleteDocument(ctx, session, documentID); err != nil {
		return userFacingError(appCtx.Logger(), err)
	}

	fmt.Printf("文書 %s を削除しました\n", documentID)
	return nil
}

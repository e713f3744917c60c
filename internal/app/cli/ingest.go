package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/retrieval"
	"github.com/jinford/doc-rag/internal/infra/filesource"
)

// IngestParams は取り込みコマンドのパラメータ
type IngestParams struct {
	SessionID  string
	Path       string
	DocumentID string // 単一ファイルの場合のみ有効
	Replace    bool
}

// IngestSummary は取り込み結果の集計
type IngestSummary struct {
	Results []*retrieval.IngestResult
	Skipped []filesource.Skipped
	Chunks  int
}

// IngestAction は文書取り込みコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	params := IngestParams{
		SessionID:  cmd.String("session"),
		Path:       cmd.String("path"),
		DocumentID: cmd.String("document"),
		Replace:    cmd.Bool("replace"),
	}
	envFile := cmd.String("env")

	slog.Info("文書の取り込みを開始",
		"session", params.SessionID,
		"path", params.Path,
		"replace", params.Replace,
	)

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	summary, err := executeIngest(ctx, appCtx.Service(), appCtx.Container.Collector, params)
	if err != nil {
		return userFacingError(appCtx.Logger(), err)
	}

	renderIngestSummary(os.Stdout, summary)

	appCtx.Logger().Info("文書の取り込みが完了しました",
		"documents", len(summary.Results),
		"chunks", summary.Chunks,
		"skipped", len(summary.Skipped),
	)
	return nil
}

// executeIngest はパス配下の文書を順に取り込む
// 1件でも失敗した場合はそこで中断する
func executeIngest(ctx context.Context, svc *retrieval.Service, collector *filesource.Collector, params IngestParams) (*IngestSummary, error) {
	session, err := requireSession(params.SessionID)
	if err != nil {
		return nil, err
	}
	if params.Path == "" {
		return nil, fmt.Errorf("--path を指定してください")
	}

	docs, skipped, err := collector.Collect(params.Path)
	if err != nil {
		return nil, err
	}
	if params.DocumentID != "" {
		if len(docs) != 1 {
			return nil, fmt.Errorf("--document は単一ファイルの取り込み時のみ指定できます")
		}
		docs[0] = filesource.NewFileDocument(docs[0].Path(), params.DocumentID)
	}

	summary := &IngestSummary{Skipped: skipped}
	for _, doc := range docs {
		var result *retrieval.IngestResult
		if params.Replace {
			result, err = svc.ReplaceDocument(ctx, session, doc)
		} else {
			result, err = svc.IngestDocument(ctx, session, doc)
		}
		if err != nil {
			return nil, err
		}
		summary.Results = append(summary.Results, result)
		summary.Chunks += result.ChunkCount
	}
	return summary, nil
}

func renderIngestSummary(w io.Writer, summary *IngestSummary) {
	table := tablewriter.NewWriter(w)
	table.Header("Document", "Chunks", "Replaced", "Duration")
	for _, r := range summary.Results {
		table.Append(
			r.DocumentID,
			fmt.Sprintf("%d", r.ChunkCount),
			fmt.Sprintf("%t", r.Replaced),
			r.Duration.Round(time.Millisecond).String(),
		)
	}
	table.Render()

	fmt.Fprintf(w, "\n取り込み: %d 件 / チャンク: %d 件\n", len(summary.Results), summary.Chunks)
	if len(summary.Skipped) > 0 {
		fmt.Fprintf(w, "スキップ: %d 件 (%s)\n", len(summary.Skipped), filesource.SkippedReasons(summary.Skipped))
	}
}

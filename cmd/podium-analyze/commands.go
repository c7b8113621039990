package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/podium-backend/internal/app"
	"github.com/yungbote/podium-backend/internal/modules/delivery"
	"github.com/yungbote/podium-backend/internal/modules/ingestion"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/rediscache"
)

var (
	Root = &cobra.Command{
		Use:           "podium-analyze",
		Short:         "Analyze the delivery of a recorded talk",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	URL = &cobra.Command{
		Use:   "url <url>",
		Short: "Download a recording and analyze it",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeURL,
	}

	File = &cobra.Command{
		Use:   "file <path>",
		Short: "Analyze a recording already on disk",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeFile,
	}

	Watch = &cobra.Command{
		Use:   "watch",
		Short: "Print analysis progress events published by the server",
		Args:  cobra.ExactArgs(0),
		RunE:  watch,
	}
)

func init() {
	Root.AddCommand(URL)
	Root.AddCommand(File)
	Root.AddCommand(Watch)

	Root.PersistentFlags().String("log-mode", "production", "logger mode (development|production)")
	Root.PersistentFlags().Bool("summary", false, "print a text summary instead of JSON")
	URL.Flags().String("name", "", "file name to use when the url has none")
}

type runner func(ctx context.Context, p *ingestion.Pipeline) (*ingestion.Result, error)

func analyzeURL(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	return analyze(cmd, func(ctx context.Context, p *ingestion.Pipeline) (*ingestion.Result, error) {
		return p.ProcessFile(ctx, ingestion.Source{URL: args[0], FileName: name})
	})
}

func analyzeFile(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(args[0]); err != nil {
		return err
	}
	return analyze(cmd, func(ctx context.Context, p *ingestion.Pipeline) (*ingestion.Result, error) {
		return p.ProcessLocalFile(ctx, args[0])
	})
}

func analyze(cmd *cobra.Command, run runner) error {
	ctx := cmd.Context()
	log, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	core, err := app.BuildCore(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer core.Close()

	res, err := run(ctx, core.Pipeline)
	if err != nil {
		return err
	}
	summary, _ := cmd.Flags().GetBool("summary")
	return printResult(cmd.OutOrStdout(), res, summary)
}

func printResult(w io.Writer, res *ingestion.Result, summary bool) error {
	if summary {
		_, err := fmt.Fprintln(w, delivery.Summary(res.Analytics))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func watch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	rdb, err := rediscache.Dial(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	out := cmd.OutOrStdout()
	bus := rediscache.NewEventBus(log, rdb, cfg.Redis)
	if err := bus.Subscribe(ctx, func(ev rediscache.AnalysisEvent) {
		line := fmt.Sprintf("%s %s %-9s %s", ev.At.Format("15:04:05"), ev.AnalysisID, ev.Status, ev.Stage)
		if ev.Error != "" {
			line += " error=" + ev.Error
		}
		fmt.Fprintln(out, line)
	}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func setup(cmd *cobra.Command) (*logger.Logger, app.Config, error) {
	mode, _ := cmd.Flags().GetString("log-mode")
	log, err := logger.New(mode)
	if err != nil {
		return nil, app.Config{}, err
	}
	cfg, err := app.LoadConfig(log)
	if err != nil {
		return nil, app.Config{}, err
	}
	return log, cfg, nil
}

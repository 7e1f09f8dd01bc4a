package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/tubepulse/internal/config"
	"github.com/elonfeng/tubepulse/internal/logging"
	"github.com/elonfeng/tubepulse/internal/pipeline"
	"github.com/elonfeng/tubepulse/internal/scheduler"
	"github.com/elonfeng/tubepulse/internal/store"
	"github.com/elonfeng/tubepulse/pkg/alert"
	"github.com/elonfeng/tubepulse/pkg/server"
	"github.com/elonfeng/tubepulse/pkg/sink"
	"github.com/elonfeng/tubepulse/pkg/source"
	"github.com/elonfeng/tubepulse/pkg/views"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds everything a command needs, built from one config.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.SQLStore
	engine   *views.Engine
	pipeline *pipeline.Pipeline
}

type appOptions struct {
	withSource bool
	withAlerts bool
	outDir     string
	limit      *int
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	loc, err := cfg.Source.Location()
	if err != nil {
		return nil, err
	}

	db, err := store.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	limit := cfg.Views.TopLimit
	if opts.limit != nil {
		limit = *opts.limit
	}
	engine := views.NewEngine(db.DB(), views.Options{Limit: limit, Parallelism: cfg.Views.Parallelism}, logger.Named("views"))

	outDir := cfg.Output.Dir
	if opts.outDir != "" {
		outDir = opts.outDir
	}

	var src source.Source
	if opts.withSource {
		src = buildSource(cfg, loc, logger.Named("source"))
	}
	var alerts *alert.Manager
	if opts.withAlerts {
		alerts = buildAlertManager(cfg)
	}

	p := pipeline.New(db, src, engine, pipeline.Options{
		Filter:        source.NewFilter(cfg.Filter.ExcludeKeywords, cfg.Filter.ExcludeChannels),
		Sink:          sink.NewCSV(outDir),
		Alerts:        alerts,
		Location:      loc,
		RetentionDays: cfg.Retention.Days,
	}, logger.Named("pipeline"))

	logger.Debug("app ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("source", cfg.Source.Kind),
		zap.String("region", cfg.Source.Region),
		zap.String("output_dir", outDir))

	return &app{cfg: cfg, logger: logger, store: db, engine: engine, pipeline: p}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func buildSource(cfg *config.Config, loc *time.Location, logger *zap.Logger) source.Source {
	if cfg.Source.Kind == "feed" {
		return source.NewFeed(source.FeedOptions{
			Channels:   cfg.Source.Channels,
			MaxResults: cfg.Source.MaxResults,
			Region:     cfg.Source.Region,
			Timeout:    cfg.Source.ParseTimeout(),
		}, logger)
	}
	return source.NewYouTube(source.YouTubeOptions{
		APIKey:     cfg.Source.APIKey,
		BaseURL:    cfg.Source.BaseURL,
		Region:     cfg.Source.Region,
		MaxResults: cfg.Source.MaxResults,
		Timeout:    cfg.Source.ParseTimeout(),
		ArchiveDir: cfg.Source.ArchiveDir,
		Location:   loc,
	}, logger)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runIngest(ctx context.Context) error {
	a, err := newApp(appOptions{withSource: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(ctx)
	defer cancel()

	res, err := a.pipeline.Ingest(ctx)
	if err != nil {
		return err
	}
	printSteps(os.Stdout, res)
	return res.Err()
}

type viewsOptions struct {
	limit      int
	limitSet   bool
	outDir     string
	jsonOutput bool
}

func runViews(ctx context.Context, opts viewsOptions) error {
	ao := appOptions{outDir: opts.outDir}
	if opts.limitSet {
		ao.limit = &opts.limit
	}
	a, err := newApp(ao)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(ctx)
	defer cancel()

	res, err := a.pipeline.Refresh(ctx)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sink.Summarize(res.Report)); err != nil {
			return err
		}
	} else {
		printReport(os.Stdout, res.Report)
	}

	if failed := res.Report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d views failed", len(failed), len(res.Report.Results))
	}
	return res.Err()
}

func runOnce(ctx context.Context) error {
	a, err := newApp(appOptions{withSource: true, withAlerts: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(ctx)
	defer cancel()

	res, err := a.pipeline.Run(ctx)
	if err != nil {
		return err
	}
	printSteps(os.Stdout, res)
	if res.Report != nil {
		fmt.Println()
		printReport(os.Stdout, res.Report)
	}
	return res.Err()
}

func runServe(port int) error {
	a, err := newApp(appOptions{withSource: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	srv := server.New(a.store, a.engine, a.pipeline, port, a.logger.Named("server"))
	return srv.ListenAndServe(ctx)
}

func runDaemon(port int) error {
	a, err := newApp(appOptions{withSource: true, withAlerts: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	loc, err := a.cfg.Source.Location()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(a.pipeline, a.cfg.Schedule.Cron, loc, a.cfg.Schedule.RunOnStart, a.logger.Named("scheduler"))
	if err != nil {
		return err
	}
	srv := server.New(a.store, a.engine, a.pipeline, port, a.logger.Named("server"))

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	err = g.Wait()
	a.logger.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runPrune(ctx context.Context, before string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if before == "" {
		if a.cfg.Retention.Days <= 0 {
			return errors.New("--before is required when retention.days is not set")
		}
		today, err := time.Parse(store.DateFormat, a.pipeline.SnapshotDate())
		if err != nil {
			return err
		}
		before = today.AddDate(0, 0, -a.cfg.Retention.Days).Format(store.DateFormat)
	} else if _, err := time.Parse(store.DateFormat, before); err != nil {
		return fmt.Errorf("--before must be YYYY-MM-DD: %w", err)
	}

	n, err := a.store.Prune(ctx, before)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d rows before %s\n", n, before)
	return nil
}

func printSteps(out io.Writer, res *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run %s (snapshot %s)\n", res.RunID, res.SnapshotDate)
	fmt.Fprintln(w, "STEP\tSTATUS\tDURATION\tDETAIL")
	for _, st := range res.Steps {
		status, detail := "ok", st.Summary
		if st.Err != nil {
			status, detail = "failed", st.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, status, st.Duration.Round(time.Millisecond), detail)
	}
	w.Flush()
}

// previewRows caps how many rows of each view the terminal report shows.
const previewRows = 10

func printReport(out io.Writer, r *views.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "views for %s\n", r.LatestDate)
	fmt.Fprintln(w, "VIEW\tSTATUS\tROWS\tDURATION")
	for _, res := range r.Results {
		if !res.OK() {
			fmt.Fprintf(w, "%s\t%s error\t-\t%s\n", res.View, views.KindOf(res.Err), res.Duration.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(w, "%s\tok\t%d\t%s\n", res.View, res.Table.Len(), res.Duration.Round(time.Millisecond))
	}
	w.Flush()

	for _, res := range r.Results {
		if !res.OK() || res.Table.Len() == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s\n", res.View)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for i, col := range res.Table.Columns() {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, col)
		}
		fmt.Fprintln(w)
		for i, rec := range res.Table.Records() {
			if i == previewRows {
				break
			}
			for j, cell := range rec {
				if j > 0 {
					fmt.Fprint(w, "\t")
				}
				fmt.Fprint(w, cell)
			}
			fmt.Fprintln(w)
		}
		w.Flush()
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundrecon/internal/auditlog"
	"fundrecon/internal/logger"
	"fundrecon/internal/projection"
	"fundrecon/internal/recon"
	"fundrecon/internal/store"
	"fundrecon/internal/trace"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	jobName := flag.String("job", "", "run only this job")
	list := flag.Bool("list", false, "list report and loader presets and exit")
	flag.Parse()

	if *list {
		fmt.Println("reports:", recon.PresetNames())
		fmt.Println("three-way:", recon.ThreeWayPresetNames())
		fmt.Println("loaders:", projection.LoaderNames())
		return
	}

	os.Exit(run(*configPath, *jobName))
}

func run(configPath, jobName string) int {
	cfg, err := initializeSystem(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = trace.Shutdown(sctx)
	}()

	dir := auditDir(cfg)
	compressOldJournals(ctx, dir, cfg.Audit.RetentionDays)
	journal, err := auditlog.Open(dir)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to open audit journal", err, "dir", dir)
		return 1
	}
	defer journal.Close()

	runner, err := initializeService(ctx, cfg, journal)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to initialize service", err)
		return 1
	}

	jobs, err := selectJobs(cfg.Jobs, jobName)
	if err != nil {
		logger.ErrorWithErr(ctx, "Invalid job selection", err)
		return 1
	}

	reports, err := runner.RunAll(ctx, jobs)
	b, _ := json.MarshalIndent(reports, "", "  ")
	fmt.Println(string(b))
	if err != nil {
		return 1
	}
	return 0
}

func selectJobs(jobs []store.Job, name string) ([]store.Job, error) {
	if name == "" {
		return jobs, nil
	}
	for _, j := range jobs {
		if j.Name == name {
			return []store.Job{j}, nil
		}
	}
	return nil, fmt.Errorf("no job named %q", name)
}

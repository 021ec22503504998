// Command promote copies the newest training run's weights to the production
// model path without starting the server.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"FoodDetServer/config"
	"FoodDetServer/loader"
	"FoodDetServer/logger"
	"FoodDetServer/runs"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	dryRun := fs.Bool("dry-run", false, "only report what would be promoted")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(out, "config:", err)
		return 2
	}
	if err := logger.InitDevelopment(); err != nil {
		fmt.Fprintln(out, "logger:", err)
		return 2
	}
	defer logger.Sync()

	lc := loader.ConfigFrom(cfg.Model)
	latest, err := runs.LatestRun(lc.RunsRoot, lc.RunPrefix)
	if err != nil {
		logger.Log().Error("enumerate runs", zap.Error(err))
		return 1
	}
	if latest == nil {
		fmt.Fprintf(out, "no %s* runs under %s\n", lc.RunPrefix, lc.RunsRoot)
		return 1
	}
	fmt.Fprintf(out, "latest run: %s (suffix %d, modified %s)\n", latest.Name, latest.Suffix, latest.ModTime.Format("2006-01-02 15:04:05"))
	for _, name := range []string{lc.BestWeights, lc.LastWeights} {
		p := filepath.Join(latest.WeightsDir(lc.WeightsDir), name)
		_, statErr := os.Stat(p)
		fmt.Fprintf(out, "  %-10s %s present=%t\n", name, p, statErr == nil)
	}

	weights, err := loader.ResolveRunWeights(lc)
	if err != nil {
		fmt.Fprintln(out, "nothing to promote:", err)
		return 1
	}
	fmt.Fprintf(out, "selected: %s\n", weights)
	if *dryRun {
		fmt.Fprintf(out, "dry run, %s left untouched\n", lc.ProductionPath)
		return 0
	}
	if err := loader.Promote(weights, lc.ProductionPath); err != nil {
		logger.Log().Error("promotion failed", zap.String("dest", lc.ProductionPath), zap.Error(err))
		return 1
	}
	fmt.Fprintf(out, "promoted %s -> %s\n", weights, lc.ProductionPath)
	return 0
}

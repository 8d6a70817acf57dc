package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/menta2k/capturegate"
	"github.com/menta2k/capturegate/internal/utils"
)

var (
	batchExposure exposureFlags
	batchCrops    bool
	batchOverlay  bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Evaluate every image in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gate, err := newGate()
		if err != nil {
			return err
		}
		return runBatch(cmd.Context(), gate, args[0])
	},
}

func init() {
	batchExposure.register(batchCmd)
	batchCmd.Flags().BoolVar(&batchCrops, "crops", false, "write a portrait crop for every image that passes")
	batchCmd.Flags().BoolVar(&batchOverlay, "overlay", false, "write debug overlays for every image (also enabled by output.overlay)")
	rootCmd.AddCommand(batchCmd)
}

// batchEntry is one line of batch_results.json
type batchEntry struct {
	capturegate.Result
	Error string `json:"error,omitempty"`
}

func runBatch(ctx context.Context, gate *capturegate.Gate, dir string) error {
	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No images found.")
		return nil
	}
	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	overlay := batchOverlay || cfg.Output.Overlay

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Evaluating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	entries := make([]batchEntry, 0, len(files))
	counts := map[string]int{}
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		entry := evaluateBatchFile(ctx, gate, path, overlay)
		entries = append(entries, entry)
		if entry.Error != "" {
			counts["error"]++
		} else {
			counts[entry.Decision.Reason.String()]++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	js, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	summaryPath := filepath.Join(cfg.Output.OutputDir, "batch_results.json")
	if err := os.WriteFile(summaryPath, js, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	printCounts(counts, len(entries))
	slog.Info("batch: wrote results", "path", summaryPath, "images", len(entries))
	return ctx.Err()
}

func evaluateBatchFile(ctx context.Context, gate *capturegate.Gate, path string, overlay bool) batchEntry {
	src, err := gate.Processor().LoadFile(path)
	if err != nil {
		slog.Warn("batch: load failed", "path", path, "error", err)
		return batchEntry{Result: capturegate.Result{Source: path}, Error: err.Error()}
	}

	res, err := gate.EvaluateImage(ctx, src.Image, batchExposure.sample(src))
	res.Source = path
	if err != nil && !capturegate.IsExposureError(err) {
		slog.Warn("batch: evaluation failed", "path", path, "error", err)
		return batchEntry{Result: res, Error: err.Error()}
	}

	if overlay {
		if _, err := writeOverlay(gate, res); err != nil {
			slog.Warn("batch: overlay save failed", "path", path, "error", err)
		}
	}
	if batchCrops && res.Decision.Allowed {
		if _, err := writeCrop(gate, res); err != nil {
			slog.Warn("batch: crop save failed", "path", path, "error", err)
		}
	}
	return batchEntry{Result: res}
}

func printCounts(counts map[string]int, total int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "REASON\tIMAGES")
	fmt.Fprintln(w, "------\t------")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	w.Flush()
}

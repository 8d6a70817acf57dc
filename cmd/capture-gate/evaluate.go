package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/menta2k/capturegate"
	"github.com/menta2k/capturegate/internal/utils"
)

var (
	evalExposure exposureFlags
	evalJSON     bool
	evalOverlay  bool
	evalCrop     bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <image|url>",
	Short: "Evaluate a single image against the capture gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gate, err := newGate()
		if err != nil {
			return err
		}
		return runEvaluate(cmd.Context(), gate, args[0])
	},
}

func init() {
	evalExposure.register(evaluateCmd)
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "print the result as JSON")
	evaluateCmd.Flags().BoolVar(&evalOverlay, "overlay", false, "write a debug overlay image to the output directory")
	evaluateCmd.Flags().BoolVar(&evalCrop, "crop", false, "write a portrait crop when the image passes")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(ctx context.Context, gate *capturegate.Gate, source string) error {
	src, err := gate.Processor().LoadSmart(source)
	if err != nil {
		return err
	}

	res, err := gate.EvaluateImage(ctx, src.Image, evalExposure.sample(src))
	res.Source = source
	if err != nil && !capturegate.IsExposureError(err) {
		return err
	}
	if err != nil {
		slog.Warn("evaluate: exposure unavailable", "source", source, "error", err)
	}

	if evalOverlay || evalCrop {
		if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if evalOverlay {
		if path, err := writeOverlay(gate, res); err != nil {
			slog.Error("evaluate: overlay save failed", "error", err)
		} else {
			slog.Info("evaluate: wrote overlay", "path", path)
		}
	}
	if evalCrop && res.Decision.Allowed {
		if path, err := writeCrop(gate, res); err != nil {
			slog.Error("evaluate: crop save failed", "error", err)
		} else {
			slog.Info("evaluate: wrote portrait", "path", path)
		}
	}

	if evalJSON {
		js, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(js))
		return nil
	}
	printResult(os.Stdout, res)
	return nil
}

func writeOverlay(gate *capturegate.Gate, res capturegate.Result) (string, error) {
	p := gate.Processor()
	overlay := p.CreateDebugOverlay(res.Image, res.Faces, res.Viewport, res.Decision)
	path := utils.GenerateOutputFilename(res.Source, cfg.Output.OutputDir, "_overlay", "png")
	return path, p.SaveImage(overlay, path, "png", cfg.Output.Quality, false)
}

func writeCrop(gate *capturegate.Gate, res capturegate.Result) (string, error) {
	p := gate.Processor()
	crop, err := p.CropPortrait(res.Image, res.Faces[0].BoundingBox, cfg.Output.CropPadding)
	if err != nil {
		return "", err
	}
	path := utils.GenerateOutputFilename(res.Source, cfg.Output.OutputDir, cfg.Output.Suffix, cfg.Output.Format)
	return path, p.SaveImage(crop, path, cfg.Output.Format, cfg.Output.Quality, cfg.Output.Lossless)
}

func printResult(w io.Writer, res capturegate.Result) {
	m := res.Decision.Metrics
	fmt.Fprintf(w, "%s\n", res.Source)
	fmt.Fprintf(w, "  allowed:    %v\n", res.Decision.Allowed)
	fmt.Fprintf(w, "  reason:     %s\n", res.Decision.Reason)
	fmt.Fprintf(w, "  faces:      %d\n", m.FaceCount)
	if m.OverlapKnown {
		fmt.Fprintf(w, "  overlap:    %.2f%%\n", m.OverlapPercent)
	}
	if m.LuminosityKnown {
		fmt.Fprintf(w, "  luminosity: %.2f\n", m.Luminosity)
	}
	if res.Advisory != "" {
		fmt.Fprintf(w, "  advisory:   %s\n", res.Advisory)
	}
}

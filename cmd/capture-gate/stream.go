package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/capturegate"
	"github.com/menta2k/capturegate/internal/utils"
	"github.com/menta2k/capturegate/pkg/pipeline"
	"github.com/menta2k/capturegate/pkg/presenter"
	"github.com/menta2k/capturegate/pkg/session"
)

var (
	streamExposure exposureFlags
	streamFPS      float64
	streamAuto     bool
	streamPosition string
	streamFlash    bool
)

var streamCmd = &cobra.Command{
	Use:   "stream <dir>",
	Short: "Replay a directory of frames through the live capture pipeline",
	Long: "Publishes the images of a directory in lexical order at a fixed frame rate. " +
		"Frames that arrive while the detector is still busy are dropped, as on a live camera.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if streamFPS <= 0 {
			return fmt.Errorf("--fps must be positive")
		}
		switch session.Position(streamPosition) {
		case session.PositionFront, session.PositionBack:
		default:
			return fmt.Errorf("--position must be front or back")
		}
		gate, err := newGate()
		if err != nil {
			return err
		}
		return runStream(cmd.Context(), gate, args[0])
	},
}

func init() {
	streamExposure.register(streamCmd)
	streamCmd.Flags().Float64Var(&streamFPS, "fps", 10, "frames published per second")
	streamCmd.Flags().BoolVar(&streamAuto, "auto-capture", true, "capture as soon as a frame passes the gate")
	streamCmd.Flags().StringVar(&streamPosition, "position", string(session.PositionFront), "camera position: front or back")
	streamCmd.Flags().BoolVar(&streamFlash, "flash", false, "record the flash as on for captured photos")
	rootCmd.AddCommand(streamCmd)
}

func runStream(ctx context.Context, gate *capturegate.Gate, dir string) error {
	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return fmt.Errorf("failed to list frames: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No frames found.")
		return nil
	}
	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	sess := session.New()
	sess.SetPosition(session.Position(streamPosition))
	if streamFlash {
		sess.ToggleFlash()
	}

	logger := slog.Default()
	ui := presenter.SlogPresenter{Logger: logger}
	var captures atomic.Int64

	var p *pipeline.Pipeline
	p = pipeline.New(pipeline.Options{
		Evaluator:  gate.Evaluator(),
		Session:    sess,
		Presenter:  presenter.NewAdapter(ui, ui, ui),
		FaceSource: gate.FaceSource(),
		Handler: pipeline.CaptureFunc(func(ctx context.Context, img pipeline.CapturedImage) error {
			path, err := saveCapture(gate, img)
			if err != nil {
				return err
			}
			captures.Add(1)
			logger.Info("stream: saved capture", "path", path, "position", img.Position, "flash", img.Flash)
			return nil
		}),
		Logger: logger,
		OnResult: func(r pipeline.Result) {
			if r.Err != nil && !capturegate.IsExposureError(r.Err) {
				logger.Warn("stream: frame failed", "frame", r.Frame.ID, "error", r.Err)
			}
			if streamAuto && r.Update.AllowedChanged && r.Update.Decision.Allowed {
				if _, err := p.Capture(ctx); err != nil {
					logger.Error("stream: capture failed", "frame", r.Frame.ID, "error", err)
				}
			}
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	interval := time.Duration(float64(time.Second) / streamFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

publish:
	for _, path := range files {
		src, err := gate.Processor().LoadFile(path)
		if err != nil {
			logger.Warn("stream: skipping frame", "path", path, "error", err)
			continue
		}
		p.Publish(&pipeline.Frame{
			ID:       path,
			Image:    src.Image,
			Viewport: gate.Processor().Viewport(src.Image),
			Exposure: streamExposure.sample(src),
		})
		select {
		case <-ticker.C:
		case <-ctx.Done():
			break publish
		}
	}

	// Let the worker finish the frame it holds before stopping
	for ctx.Err() == nil {
		st := p.Stats()
		if st.Processed+st.Dropped >= st.Published {
			break
		}
		time.Sleep(interval)
	}
	p.Stop()
	<-runErr

	st := p.Stats()
	snap := sess.Snapshot()
	fmt.Printf("session %s: %d published, %d processed, %d dropped, %d failed, %d captured\n",
		snap.ID, st.Published, st.Processed, st.Dropped, st.Failed, captures.Load())
	return nil
}

// saveCapture writes the portrait crop of a captured frame to the output directory
func saveCapture(gate *capturegate.Gate, img pipeline.CapturedImage) (string, error) {
	if len(img.Faces) == 0 {
		return "", fmt.Errorf("captured frame has no face")
	}
	p := gate.Processor()
	crop, err := p.CropPortrait(img.Image, img.Faces[0].BoundingBox, cfg.Output.CropPadding)
	if err != nil {
		return "", err
	}
	path := utils.GenerateOutputFilename(img.FrameID, cfg.Output.OutputDir, cfg.Output.Suffix, cfg.Output.Format)
	if err := p.SaveImage(crop, path, cfg.Output.Format, cfg.Output.Quality, cfg.Output.Lossless); err != nil {
		return "", fmt.Errorf("failed to save capture: %w", err)
	}
	return path, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hls-packager/internal/orchestrator"
	"hls-packager/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTranscodeCommand(s *settings) *cobra.Command {
	var assetID string
	cmd := &cobra.Command{
		Use:   "transcode <file>",
		Short: "Package a local video file into the package root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTranscode(ctx, cmd, s, args[0], assetID)
		},
	}
	cmd.Flags().StringVar(&assetID, "asset-id", "", "asset id to publish under (default: random uuid)")
	return cmd
}

// runTranscode packages a copy of path so the caller's file survives cleanup.
func runTranscode(ctx context.Context, cmd *cobra.Command, s *settings, path, assetID string) error {
	log := logger.New(s.logLevel, s.logFormat)
	// The staged copy is ours; the caller's file is never touched.
	s.retainSource = false

	svc, closeStore, err := buildService(s, log, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	if assetID == "" {
		assetID = uuid.NewString()
	}
	staged, err := stageCopy(path, svc.StagingDir())
	if err != nil {
		return err
	}

	asset, err := svc.Transcode(ctx, orchestrator.SourceAsset{
		ID:          assetID,
		StoragePath: staged,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", asset.ID, asset.MasterPath)
	return nil
}

func stageCopy(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	out, err := os.CreateTemp(dir, "source-*"+filepath.Ext(src))
	if err != nil {
		return "", fmt.Errorf("create staged copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("copy source: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("copy source: %w", err)
	}
	return out.Name(), nil
}

package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/config"
	"github.com/dharsanguruparan/AgeGate/internal/database"
	"github.com/dharsanguruparan/AgeGate/internal/intake"
	"github.com/dharsanguruparan/AgeGate/internal/logger"
	"github.com/dharsanguruparan/AgeGate/internal/ocr"
	"github.com/dharsanguruparan/AgeGate/internal/pipeline"
	"github.com/dharsanguruparan/AgeGate/internal/repository"
	"github.com/dharsanguruparan/AgeGate/internal/s3storage"
	"github.com/dharsanguruparan/AgeGate/internal/storage"
)

type verifyOptions struct {
	userID      string
	contentType string
	at          string
	remote      bool
}

func newVerifyCmd() *cobra.Command {
	var opts verifyOptions
	cmd := &cobra.Command{
		Use:   "verify <image>",
		Short: "Run the verification pipeline on a local image",
		Long: `Runs OCR, birth date extraction and the age gate on the image, then uploads and records it.
By default storage is in memory; --remote uses the configured MinIO bucket and Postgres database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "local-user", "User the document belongs to")
	cmd.Flags().StringVar(&opts.contentType, "content-type", "", "Declared media type (defaults to the one implied by the extension)")
	cmd.Flags().StringVar(&opts.at, "at", "", "Evaluate the age on this date (YYYY-MM-DD) instead of today")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "Store in MinIO and Postgres instead of memory")
	return cmd
}

func runVerify(cmd *cobra.Command, path string, opts verifyOptions) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	clock := time.Now
	if opts.at != "" {
		at, err := time.Parse(time.DateOnly, opts.at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		clock = func() time.Time { return at }
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	contentType := opts.contentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}

	objects, datastore, cleanup, err := verifyBackends(cmd, cfg, opts.remote, log)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := pipeline.New(
		ocr.NewAdapter(ocr.NewTesseract(1), log),
		objects,
		pipeline.NewRecorder(datastore, clock, log),
		pipeline.Options{
			Language:       cfg.OCR.Language,
			ExtractTimeout: cfg.OCR.Timeout,
			UploadTimeout:  cfg.Upload.Timeout,
			Clock:          clock,
		},
		log,
	)

	file := intake.File{Name: filepath.Base(path), ContentType: contentType, Data: data}
	outcome, runErr := orch.Submit(ctx, pipeline.Session{UserID: opts.userID}, file, func(p int) {
		fmt.Fprintf(cmd.ErrOrStderr(), "\rupload %3d%%", p)
	})
	fmt.Fprintln(cmd.ErrOrStderr())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return err
	}
	if runErr != nil {
		log.Debug("run did not complete", zap.Error(runErr))
		return fmt.Errorf("%s: %w", outcome.Status, runErr)
	}
	return nil
}

func verifyBackends(cmd *cobra.Command, cfg *config.Config, remote bool, log *zap.Logger) (pipeline.ObjectStore, pipeline.Datastore, func(), error) {
	if !remote {
		return storage.NewMemoryObjects(cfg.S3.Bucket, 0), storage.NewMemoryStore(), func() {}, nil
	}
	ctx := cmd.Context()
	store, err := s3storage.New(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, nil, nil, err
	}
	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return store, repository.NewVerifiedDocumentRepository(pool, log), pool.Close, nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/noah-isme/gema-portal/internal/client"
	"github.com/noah-isme/gema-portal/internal/config"
	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/legacy"
	"github.com/noah-isme/gema-portal/internal/portal"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/pkg/ai"
	cloud "github.com/noah-isme/gema-portal/pkg/cloudinary"
)

func main() {
	importPath := pflag.String("import", "", "load a JSON dump of the old browser storage into the legacy cache before syncing")
	resultsFor := pflag.String("results", "", "print the recorded results of a test and exit")
	gradePending := pflag.Bool("grade-pending", false, "AI-grade every ungraded submission of the console's tasks and exit")
	language := pflag.String("lang", "en", "language of AI feedback (en, ru, kk)")
	takeTestID := pflag.String("take-test", "", "take a published test as the console's student and exit")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().
		Str("app", "gema-console").
		Str("role", cfg.ConsoleRole).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := legacy.OpenBoltCache(cfg.ConsoleLegacyPath, logger)
	if err != nil {
		log.Fatalf("failed to open legacy cache: %v", err)
	}
	defer cache.Close()

	if *importPath != "" {
		if err := importDump(cache, *importPath, logger); err != nil {
			log.Fatalf("failed to import legacy dump: %v", err)
		}
	}

	storeClient := client.NewStoreClient(cfg.ConsoleStoreURL,
		client.WithIdentity(cfg.ConsoleRole, cfg.ConsoleEmail),
		client.WithLogger(logger),
	)

	var nudges <-chan struct{}
	if cfg.ConsoleStream {
		nudges = replicator.Follow(ctx, storeClient.StreamURL(), storeClient.Headers(), logger)
	}

	repl := replicator.New(storeClient, replicator.Options{
		Interval: cfg.ConsolePollInterval,
		Owned:    cfg.ConsoleOwned,
		Legacy:   cache,
		Nudges:   nudges,
		Logger:   logger,
	})

	actions := portal.New(repl, portal.Options{
		AI:        newAI(cfg, logger),
		Blobs:     newBlobs(cfg, logger),
		Validator: validator.New(validator.WithRequiredStructEnabled()),
		Logger:    logger,
	})

	switch {
	case *resultsFor != "":
		if err := printResults(ctx, repl, actions, *resultsFor); err != nil {
			log.Fatalf("failed to list results: %v", err)
		}
		return
	case *gradePending:
		if err := gradeAll(ctx, repl, actions, cfg.ConsoleEmail, *language, logger); err != nil {
			log.Fatalf("failed to grade submissions: %v", err)
		}
		repl.Flush(ctx)
		return
	case *takeTestID != "":
		if err := takeTest(ctx, repl, actions, *takeTestID, cfg.ConsoleEmail, os.Stdin, os.Stdout, logger); err != nil {
			log.Fatalf("failed to take test: %v", err)
		}
		return
	}

	changes, unsubscribe := repl.Subscribe()
	defer unsubscribe()
	go func() {
		for key := range changes {
			logger.Info().Str("collection", key).Msg("collection changed")
		}
	}()

	logger.Info().
		Str("store_url", cfg.ConsoleStoreURL).
		Strs("owned", cfg.ConsoleOwned).
		Dur("interval", cfg.ConsolePollInterval).
		Msg("console syncing")

	if err := repl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("replicator stopped: %v", err)
	}

	if dirty := repl.Dirty(); len(dirty) > 0 {
		logger.Warn().Strs("collections", dirty).Msg("unsaved changes left at shutdown")
	}
	logger.Info().Msg("console stopped")
}

func importDump(cache *legacy.BoltCache, path string, logger zerolog.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var dump map[string]json.RawMessage
	if err := json.Unmarshal(raw, &dump); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	imported, err := cache.Import(dump)
	if err != nil {
		return err
	}
	logger.Info().Int("collections", imported).Str("path", path).Msg("legacy dump imported")
	return nil
}

func printResults(ctx context.Context, repl *replicator.Replicator, actions *portal.Portal, testID string) error {
	if err := repl.Ready(ctx); err != nil {
		return err
	}
	results, err := actions.ResultsFor(testID)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

func gradeAll(ctx context.Context, repl *replicator.Replicator, actions *portal.Portal, professorID, language string, logger zerolog.Logger) error {
	if err := repl.Ready(ctx); err != nil {
		return err
	}
	tasks, err := actions.Tasks(professorID)
	if err != nil {
		return err
	}

	graded := 0
	for _, task := range tasks {
		subs, err := actions.SubmissionsFor(task.ID)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if sub.AIResult != nil {
				continue
			}
			if _, err := actions.GradeWithAI(ctx, dto.GradeRequest{SubmissionID: sub.ID, Language: language}); err != nil {
				logger.Warn().Err(err).Str("submission_id", sub.ID).Msg("grading failed")
				continue
			}
			graded++
		}
	}

	logger.Info().Int("graded", graded).Int("tasks", len(tasks)).Msg("pending submissions graded")
	return nil
}

func newAI(cfg config.Config, logger zerolog.Logger) ai.Service {
	if cfg.OpenAIAPIKey == "" {
		return nil
	}
	service, err := ai.NewOpenAIService(ai.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.AIModel,
		Logger: logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("ai disabled")
		return nil
	}
	return service
}

func newBlobs(cfg config.Config, logger zerolog.Logger) portal.BlobStore {
	if cfg.CloudinaryCloudName == "" {
		return nil
	}
	blobs, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("blob store disabled, files stay inline")
		return nil
	}
	return blobs
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/cache"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/docparse"
	"github.com/quizforge/quizforge/internal/observability"
	"github.com/quizforge/quizforge/internal/orchestrator"
	"github.com/quizforge/quizforge/internal/provider"
	"github.com/quizforge/quizforge/internal/router"
)

// newGenerateCmd creates the one-shot `generate` command: parse a document,
// generate questions, print the set as JSON.
func newGenerateCmd() *cobra.Command {
	generateCmd := &cobra.Command{
		Use:   "generate [file]",
		Short: "Generates quiz questions from a document and prints them as JSON",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			manager := provider.NewManagerFromConfig(cfg.Providers, logger)
			if len(manager.ConfiguredNames()) == 0 {
				return fmt.Errorf("no LLM providers configured; set at least one vendor API key")
			}
			rtr := router.New(cfg.Router, manager, logger)

			var resultCache *cache.Cache
			if cfg.Cache.RedisAddr != "" {
				resultCache = cache.New(cfg.Cache.RedisAddr, "", 0, cfg.Cache.TTL, logger)
				defer resultCache.Close()
			}
			orch := orchestrator.New(cfg, manager, rtr, resultCache, logger)

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open input file: %w", err)
			}
			defer f.Close()

			pages, err := docparse.NewRegistry().Parse(ctx, args[0], f)
			if err != nil {
				return err
			}

			req := schemas.GenerationRequest{
				Text:         docparse.JoinText(pages),
				NumQuestions: viper.GetInt("num_questions"),
				BloomLevel:   schemas.BloomLevel(viper.GetString("bloom_level")),
				Difficulty:   schemas.Difficulty(viper.GetString("difficulty")),
				Strategy:     viper.GetString("strategy"),
			}

			logger.Info("Generating questions",
				zap.String("file", args[0]),
				zap.Int("pages", len(pages)),
				zap.Int("num_questions", req.NumQuestions))

			set, err := orch.Generate(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if path := viper.GetString("output"); path != "" {
				outFile, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer outFile.Close()
				out = outFile
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(set)
		},
	}

	generateCmd.Flags().IntP("num_questions", "n", 10, "number of questions to generate")
	generateCmd.Flags().String("difficulty", "", "target difficulty (easy, medium, hard)")
	generateCmd.Flags().String("bloom_level", "", "Bloom taxonomy level to target")
	generateCmd.Flags().String("strategy", "", "routing strategy (cost, speed, quality, balanced, round-robin)")
	generateCmd.Flags().StringP("output", "o", "", "write the question set to a file instead of stdout")
	return generateCmd
}

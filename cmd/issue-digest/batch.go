package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/issue-digest/internal/batch"
	"github.com/hochfrequenz/issue-digest/internal/config"
	"github.com/hochfrequenz/issue-digest/internal/log"
	"github.com/hochfrequenz/issue-digest/internal/promptbatch"
)

var (
	batchInput        string
	batchColumn       string
	batchTaskType     string
	batchSystemPrompt string
	batchModel        string
	batchOutDir       string
	batchResults      string
	batchMaxTokens    int
	batchTemperature  float32
)

func init() {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run every row of a CSV file through the batch API",
		Long: `batch sends one chat completion per CSV row, using the given column as the
user message, waits for the job and writes custom_id,answer records.`,
		RunE: runBatch,
	}
	batchCmd.Flags().StringVar(&batchInput, "input", "", "CSV file with a header row")
	batchCmd.Flags().StringVar(&batchColumn, "column", "", "column holding the prompt text")
	batchCmd.Flags().StringVar(&batchTaskType, "task-type", "task", "task type used in ids and file names")
	batchCmd.Flags().StringVar(&batchSystemPrompt, "system-prompt", "", "system prompt for every request")
	batchCmd.Flags().StringVar(&batchModel, "model", "", "model (default: klusterai.model from config)")
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", ".", "directory for the task file")
	batchCmd.Flags().StringVar(&batchResults, "results", "", "results CSV path (default: print one answer per line)")
	batchCmd.Flags().IntVar(&batchMaxTokens, "max-tokens", promptbatch.DefaultMaxCompletionTokens, "max completion tokens per answer")
	batchCmd.Flags().Float32Var(&batchTemperature, "temperature", 0, "sampling temperature")
	batchCmd.MarkFlagRequired("input")
	batchCmd.MarkFlagRequired("column")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	model := batchModel
	if model == "" {
		model = cfg.LLM.Model
	}
	if model == "" {
		return errors.New("no model: pass --model or set klusterai.model")
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("%s is not set", config.EnvLLMAPIKey)
	}

	rows, err := promptbatch.ReadCSV(batchInput)
	if err != nil {
		return err
	}
	tasks, err := promptbatch.CreateTasks(rows, batchTaskType, batchSystemPrompt, model, batchColumn, promptbatch.Options{
		Temperature:         batchTemperature,
		MaxCompletionTokens: batchMaxTokens,
	})
	if err != nil {
		return err
	}
	log.Info("tasks created", "task_type", batchTaskType, "count", len(tasks))

	api := batch.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.CompletionWindow)
	job, err := promptbatch.Run(cmd.Context(), api, batchOutDir, tasks, batchTaskType, cfg.LLM.PollInterval.Std(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return writeBatchResults(cmd.Context(), api, job.ID, cmd.OutOrStdout())
}

// writeBatchResults prints one answer per line, or writes custom_id,answer
// records when --results names a file.
func writeBatchResults(ctx context.Context, api batch.API, jobID string, stdout io.Writer) error {
	if batchResults == "" {
		answers, err := promptbatch.GetResults(ctx, api, jobID)
		if err != nil {
			return err
		}
		for _, a := range answers {
			fmt.Fprintln(stdout, a)
		}
		return nil
	}

	resps, err := promptbatch.GetResponses(ctx, api, jobID)
	if err != nil {
		return err
	}
	f, err := os.Create(batchResults)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	defer f.Close()
	if err := promptbatch.WriteResults(f, resps); err != nil {
		return err
	}
	log.Info("results written", "path", batchResults, "count", len(resps))
	return nil
}

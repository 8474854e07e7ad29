package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/genai"

	rowbatch "github.com/vivaneiona/genkit-rowbatch"
)

const envPrefix = "ROWBATCH"

func bindJobFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringP("input", "i", "", "input rows (csv, tsv or json)")
	pf.StringP("template", "t", "", "prompt template with {{column}} placeholders")
	pf.String("template-file", "", "read the prompt template from a file")
	pf.String("templates-dir", "", "directory of .twig prompt templates")
	pf.String("template-tag", "", "template name inside --templates-dir")
	pf.String("columns", "", "JSON file with the output column tree")
	pf.String("sample", "", "JSON sample answer to infer output columns from")
	pf.Int("concurrency", 4, "calls in flight")
	pf.Int("rate-limit", 60, "calls admitted per minute")
	pf.Duration("rate-window", rowbatch.DefaultRateWindow, "rate limit window")
	pf.Duration("timeout", 60*time.Second, "per-call timeout")
	pf.String("model", rowbatch.DefaultModel, "Gemini model")
	pf.Bool("web-search", false, "ground answers with Google Search")
	pf.StringToString("param", nil, "generation parameters, e.g. temperature=0.2,topP=0.9")
	pf.Int("retries", rowbatch.DefaultMaxRetries, "retries on throttling and gateway errors")
	pf.String("redis-addr", "", "share the rate limit through Redis at this address")
	pf.String("redis-key", "rowbatch:ratelimit", "Redis key prefix for the shared limit")
}

// loadConfig layers flags over ROWBATCH_* environment variables over the
// optional config file.
func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		slog.Debug("Loaded config file", "path", path)
	}
	return nil
}

// buildJob assembles the job described by the configuration.
func buildJob(v *viper.Viper) (rowbatch.Job, error) {
	var job rowbatch.Job

	input := v.GetString("input")
	if input == "" {
		return job, errors.New("--input is required")
	}
	rows, header, err := rowbatch.LoadRows(input)
	if err != nil {
		return job, err
	}
	slog.Debug("Loaded rows", "path", input, "rows", len(rows), "columns", header)

	columns, err := loadColumns(v)
	if err != nil {
		return job, err
	}
	template, err := loadTemplate(v, header)
	if err != nil {
		return job, err
	}

	return rowbatch.Job{
		Rows:               rows,
		Template:           template,
		Columns:            columns,
		Concurrency:        v.GetInt("concurrency"),
		RateLimitPerMinute: v.GetInt("rate-limit"),
		Timeout:            v.GetDuration("timeout"),
	}, nil
}

func loadColumns(v *viper.Viper) ([]rowbatch.OutputColumn, error) {
	if path := v.GetString("columns"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var columns []rowbatch.OutputColumn
		if err := json.Unmarshal(data, &columns); err != nil {
			return nil, fmt.Errorf("parse columns %s: %w", path, err)
		}
		return columns, nil
	}
	if path := v.GetString("sample"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return rowbatch.ColumnsFromSample(data)
	}
	return nil, nil
}

func loadTemplate(v *viper.Viper, header []string) (string, error) {
	if dir := v.GetString("templates-dir"); dir != "" {
		tag := v.GetString("template-tag")
		if tag == "" {
			return "", errors.New("--template-tag is required with --templates-dir")
		}
		provider, err := rowbatch.NewStickPromptProvider(rowbatch.WithFS(os.DirFS(dir), "."))
		if err != nil {
			return "", fmt.Errorf("load templates: %w", err)
		}
		return rowbatch.ResolveTemplate(provider, tag, header)
	}
	if path := v.GetString("template-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return v.GetString("template"), nil
}

func runOptions(v *viper.Viper, job rowbatch.Job) []func(*rowbatch.Options) {
	opts := []func(*rowbatch.Options){rowbatch.WithRateWindow(v.GetDuration("rate-window"))}
	if addr := v.GetString("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		limiter := rowbatch.NewRedisLimiter(client, v.GetString("redis-key"), job.RateLimitPerMinute, v.GetDuration("rate-window"))
		opts = append(opts, rowbatch.WithLimiter(limiter))
		slog.Debug("Using shared rate limit", "redis_addr", addr)
	}
	return opts
}

func newInvoker(ctx context.Context, v *viper.Viper) (*rowbatch.GenAIInvoker, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return rowbatch.NewGenAIInvoker(client, slog.Default(),
		rowbatch.WithModelName(v.GetString("model")),
		rowbatch.WithWebSearch(v.GetBool("web-search")),
		rowbatch.WithParameters(v.GetStringMapString("param")),
		rowbatch.WithRetry(v.GetInt("retries"), rowbatch.DefaultBackoff),
	)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/scoutman/internal/config"
	"github.com/allaspectsdev/scoutman/internal/daemon"
	"github.com/allaspectsdev/scoutman/internal/router"
	"github.com/allaspectsdev/scoutman/internal/search"
	"github.com/allaspectsdev/scoutman/internal/vault"
)

type generateArgs struct {
	Request router.Request
	JSON    bool
}

type searchArgs struct {
	Query      string
	MaxResults int
	Fallback   bool
	JSON       bool
}

func parseGenerateArgs(args []string) (generateArgs, error) {
	var out generateArgs
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&out.Request.MaxTokens, "max-tokens", 0, "")
	fs.Float64Var(&out.Request.Temperature, "temperature", 0.7, "")
	fs.StringVar(&out.Request.SystemPrompt, "system", "", "")
	fs.BoolVar(&out.JSON, "json", false, "")
	if err := fs.Parse(args); err != nil {
		return out, err
	}
	out.Request.Prompt = strings.TrimSpace(strings.Join(fs.Args(), " "))
	if out.Request.Prompt == "" {
		return out, errors.New("prompt is required")
	}
	if out.Request.MaxTokens < 0 {
		return out, errors.New("--max-tokens must not be negative")
	}
	return out, nil
}

func parseSearchArgs(args []string) (searchArgs, error) {
	var out searchArgs
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&out.MaxResults, "max", 0, "")
	fs.BoolVar(&out.Fallback, "fallback", false, "")
	fs.BoolVar(&out.JSON, "json", false, "")
	if err := fs.Parse(args); err != nil {
		return out, err
	}
	out.Query = strings.TrimSpace(strings.Join(fs.Args(), " "))
	if out.Query == "" {
		return out, errors.New("query is required")
	}
	if out.MaxResults < 0 {
		return out, errors.New("--max must not be negative")
	}
	return out, nil
}

func cmdGenerate(args []string) {
	ga, err := parseGenerateArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: scoutman generate [--max-tokens N] [--temperature T] [--system TEXT] [--json] <prompt>")
		os.Exit(1)
	}

	stack := buildStack()
	if stack.Router == nil {
		fmt.Fprintln(os.Stderr, "no generation providers are configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resp := stack.Router.Generate(ctx, ga.Request)
	if ga.JSON {
		printJSON(os.Stdout, resp)
	} else {
		printGeneration(os.Stdout, resp)
	}
	if !resp.Success {
		os.Exit(1)
	}
}

func cmdSearch(args []string) {
	sa, err := parseSearchArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Usage: scoutman search [--fallback] [--max N] [--json] <query>")
		os.Exit(1)
	}

	stack := buildStack()
	if stack.Search == nil {
		fmt.Fprintln(os.Stderr, "no search providers are configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var results []search.Result
	if sa.Fallback {
		results = stack.Search.SearchWithFallback(ctx, sa.Query, sa.MaxResults)
	} else {
		results = stack.Search.Search(ctx, sa.Query, sa.MaxResults)
	}
	if results == nil {
		results = []search.Result{}
	}

	if sa.JSON {
		printJSON(os.Stdout, results)
	} else {
		printResults(os.Stdout, results)
	}
	if len(results) == 0 {
		os.Exit(1)
	}
}

// buildStack wires providers for a single command. Only warnings reach the
// terminal so output stays readable.
func buildStack() *daemon.Stack {
	cfg := loadConfig()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(oneShotLevel(cfg)).With().Timestamp().Logger()

	stack, err := daemon.Build(cfg, vault.New(), nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return stack
}

func oneShotLevel(cfg *config.Config) zerolog.Level {
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

func printGeneration(w io.Writer, resp router.Response) {
	if resp.Success {
		fmt.Fprintln(w, resp.Content)
		fmt.Fprintf(w, "\n(provider: %s)\n", resp.ProviderUsed)
		return
	}

	fmt.Fprintf(w, "generation failed: %s\n", resp.Error)
	for _, a := range resp.Attempts {
		switch {
		case a.Skipped:
			fmt.Fprintf(w, "  %-12s skipped\n", a.Provider)
		case a.Error != "":
			fmt.Fprintf(w, "  %-12s %s: %s (%s)\n", a.Provider, a.ErrorKind, a.Error, a.Latency.Round(time.Millisecond))
		default:
			fmt.Fprintf(w, "  %-12s ok (%s)\n", a.Provider, a.Latency.Round(time.Millisecond))
		}
	}
}

func printResults(w io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(w, "   %s\n", r.Snippet)
		}
		fmt.Fprintf(w, "   [%s, score %.2f]\n", r.Source, r.Score)
	}
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding output: %v\n", err)
	}
}

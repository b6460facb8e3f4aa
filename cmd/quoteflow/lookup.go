package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"quoteflow/config"
	"quoteflow/internal/quote"
	"quoteflow/reader/eastmoney"
	"quoteflow/reader/tencent"
)

// lookup runs a one-shot command and prints its result as indented JSON.
func lookup(ctx context.Context, cfg *config.Config, parser *quote.Parser, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	days := fs.Int("days", 5, "number of days")
	limit := fs.Int("limit", 10, "number of ranked stocks")
	args, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}

	quotes := tencent.NewReader(cfg, nil, nil, "", parser)
	provider := eastmoney.NewProvider(cfg, "")

	var result any
	switch cmd {
	case "quote":
		if len(args) == 0 {
			return fmt.Errorf("quote: at least one code is required")
		}
		result, err = quotes.FetchQuotes(ctx, args)
	case "info":
		if len(args) != 1 {
			return fmt.Errorf("info: exactly one code is required")
		}
		result, err = provider.BasicInfo(ctx, args[0])
	case "flow":
		if len(args) != 1 {
			return fmt.Errorf("flow: exactly one code is required")
		}
		result, err = provider.FundFlow(ctx, args[0], *days)
	case "top":
		result, err = provider.TopFundFlow(ctx, *days, *limit)
	case "history":
		if len(args) != 1 {
			return fmt.Errorf("history: exactly one code is required")
		}
		result, err = provider.History(ctx, args[0], *days)
	case "details":
		if len(args) != 1 {
			return fmt.Errorf("details: exactly one code is required")
		}
		q, qerr := quotes.FetchQuote(ctx, args[0])
		if qerr != nil {
			return qerr
		}
		result, err = provider.Details(ctx, q)
	case "clear-cache":
		quotes.ClearCache()
		provider.ClearCache()
		result = map[string]string{"status": "cleared"}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// parseInterspersed parses flags that appear before, between or after the
// positional codes and returns the codes in order.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		// a "--" terminator ends flag parsing for good
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

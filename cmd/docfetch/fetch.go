package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docfetch/internal/accounting"
	"github.com/JakeFAU/docfetch/internal/batch"
	"github.com/JakeFAU/docfetch/internal/fetch"
)

type fetchSummary struct {
	batch.Result
	Stats accounting.Snapshot `json:"stats"`
	Error string              `json:"error,omitempty"`
}

func newFetchCmd() *cobra.Command {
	var urlFile string
	cmd := &cobra.Command{
		Use:   "fetch [URL...]",
		Short: "Fetch a batch of URLs and print a JSON summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ok := appFrom(cmd)
			if !ok {
				return errors.New("application not initialized")
			}
			defer a.Close()
			urls := append([]string(nil), args...)
			if urlFile != "" {
				fromFile, err := readURLFile(urlFile)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errors.New("no URLs given")
			}
			return runFetch(cmd.Context(), a, urls, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&urlFile, "file", "f", "", "read URLs from a file, one per line ('-' for stdin)")
	return cmd
}

func runFetch(ctx context.Context, a *app, urls []string, out io.Writer) error {
	a.engine.Add(urls...)
	res, runErr := a.engine.Start(ctx, func(context.Context, fetch.Outcome) {})

	summary := fetchSummary{Result: res, Stats: a.engine.Stats()}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return runErr
}

func readURLFile(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return parseURLList(r)
}

// parseURLList reads one URL per line, skipping blanks and # comments.
func parseURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

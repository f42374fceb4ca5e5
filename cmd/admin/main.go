package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"basinflow.ai/internal/persistence/indexdb"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "admin",
		Short:        "Inspect a running server and its run index",
		SilenceUsage: true,
	}
	cmd.AddCommand(newSessionsCommand())
	cmd.AddCommand(newRunsCommand())
	return cmd
}

func newSessionsCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List active sessions (loopback admin endpoint)",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/sessions"
			cl := &http.Client{Timeout: 5 * time.Second}
			resp, err := cl.Get(u)
			if err != nil {
				return fmt.Errorf("request: %w", err)
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
			if resp.StatusCode/100 != 2 {
				return fmt.Errorf("server returned %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base url")
	return cmd
}

func newRunsCommand() *cobra.Command {
	var (
		dataDir string
		dbPath  string
		id      string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show a session and its runs from the SQLite index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("missing --session")
			}
			path := strings.TrimSpace(dbPath)
			if path == "" {
				path = filepath.Join(dataDir, "index", "basinflow.sqlite")
			}
			idx, err := indexdb.OpenSQLite(path, nil)
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer idx.Close()
			return printRuns(cmd.Context(), cmd.OutOrStdout(), idx, id)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite db path (overrides --data)")
	cmd.Flags().StringVar(&id, "session", "", "session id")
	return cmd
}

func printRuns(ctx context.Context, w io.Writer, idx *indexdb.SQLiteIndex, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := idx.Session(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	runs, err := idx.Runs(ctx, id)
	if err != nil {
		return fmt.Errorf("runs: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Session indexdb.SessionRow `json:"session"`
		Runs    []indexdb.RunRow   `json:"runs"`
	}{sess, runs})
}

package main

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/cobra"

	persistlog "basinflow.ai/internal/persistence/log"
	"basinflow.ai/internal/session"
	"basinflow.ai/internal/sim/runner"
)

const levelTolerance = 1e-9

type replayOptions struct {
	JournalDir string
	Session    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:          "replay",
		Short:        "Re-run journaled simulations and compare their terminal levels",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := persistlog.ListFiles(opts.JournalDir, persistlog.JournalPrefix)
			if err != nil {
				return fmt.Errorf("list journal: %w", err)
			}
			if len(files) == 0 {
				return fmt.Errorf("no journal files found in %s", opts.JournalDir)
			}
			rep, err := replay(files, opts.Session)
			rep.print(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&opts.JournalDir, "journal", persistlog.JournalDir("./data"), "journal directory containing runs-*.jsonl.zst")
	cmd.Flags().StringVar(&opts.Session, "session", "", "only verify runs of this session id")
	return cmd
}

type runKey struct {
	session string
	seq     int
}

type report struct {
	Verified   int
	Incomplete int
	Orphans    int
}

func (r report) print(w io.Writer) {
	fmt.Fprintf(w, "replay: verified=%d incomplete=%d orphan_completions=%d\n", r.Verified, r.Incomplete, r.Orphans)
}

// replay verifies every completed run found in files. It stops at the first mismatch.
func replay(files []string, onlySession string) (report, error) {
	var rep report
	starts := map[runKey]session.Record{}

	for _, path := range files {
		err := persistlog.ReadRecords(path, func(rec session.Record) error {
			if onlySession != "" && rec.Session != onlySession {
				return nil
			}
			key := runKey{session: rec.Session, seq: rec.RunSeq}
			switch rec.Kind {
			case session.RecordStart:
				starts[key] = rec
			case session.RecordComplete:
				start, ok := starts[key]
				if !ok {
					// The start fell in a file that was not supplied.
					rep.Orphans++
					return nil
				}
				delete(starts, key)
				if err := verifyRun(start, rec); err != nil {
					return fmt.Errorf("session %s run %d: %w", key.session, key.seq, err)
				}
				rep.Verified++
			}
			return nil
		})
		if err != nil {
			rep.Incomplete = len(starts)
			return rep, err
		}
	}
	rep.Incomplete = len(starts)
	return rep, nil
}

func verifyRun(start, done session.Record) error {
	r := runner.New(runner.Config{DtHours: start.DtHours, TransferRate: start.TransferRate})
	if err := r.Start(start.Landscape, start.Hours); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	r.Forward()

	if math.Abs(r.Elapsed()-done.Elapsed) > levelTolerance {
		return fmt.Errorf("elapsed mismatch: got=%v want=%v", r.Elapsed(), done.Elapsed)
	}
	got := r.Levels()
	if len(got) != len(done.Levels) {
		return fmt.Errorf("segment count mismatch: got=%d want=%d", len(got), len(done.Levels))
	}
	for i := range got {
		if math.Abs(got[i]-done.Levels[i]) > levelTolerance {
			return fmt.Errorf("level mismatch at segment %d: got=%v want=%v", i, got[i], done.Levels[i])
		}
	}
	return nil
}

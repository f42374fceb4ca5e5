package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"basinflow.ai/internal/protocol"
)

type clientOptions struct {
	URL       string
	Landscape string
	Hours     float64
	Forward   bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:          "client",
		Short:        "Start a simulation on a server and print its progress",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			levels, err := parseLandscape(opts.Landscape)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()
			return drive(conn, cmd.OutOrStdout(), levels, opts.Hours, opts.Forward)
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:8080/v1/ws", "ws url")
	cmd.Flags().StringVar(&opts.Landscape, "landscape", "6,4,5,9,9,2,6,5,9,7", "comma separated segment levels")
	cmd.Flags().Float64Var(&opts.Hours, "hours", 10, "hours to simulate")
	cmd.Flags().BoolVar(&opts.Forward, "forward", false, "skip to the end instead of watching every tick")
	return cmd
}

func parseLandscape(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("landscape: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// drive sends start (and forward if asked) and prints progress until the run stops.
func drive(conn *websocket.Conn, w io.Writer, levels []float64, hours float64, forward bool) error {
	cmds := []protocol.Command{{Kind: protocol.KindStart, Start: protocol.StartParams{Landscape: levels, Hours: hours}}}
	if forward {
		cmds = append(cmds, protocol.Command{Kind: protocol.KindForward})
	}
	for _, c := range cmds {
		b, err := protocol.EncodeCommand(c)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return fmt.Errorf("send %s: %w", c.Kind, err)
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, err := protocol.DecodeEnvelope(msg)
		if err != nil {
			continue
		}
		switch env.Event {
		case protocol.EventError:
			var e protocol.ErrorParams
			_ = json.Unmarshal(env.Params, &e)
			return fmt.Errorf("%s: %s", e.Code, e.Message)
		case protocol.EventProgress:
			var p protocol.ProgressParams
			if err := json.Unmarshal(env.Params, &p); err != nil {
				continue
			}
			fmt.Fprintf(w, "t=%.2fh running=%v levels=%s\n", p.Time, p.Running, formatLevels(p.Levels))
			if !p.Running && p.Time >= hours {
				return nil
			}
		}
	}
}

func formatLevels(levels []float64) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = strconv.FormatFloat(l, 'f', 3, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

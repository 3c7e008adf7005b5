package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deeplinker/internal/logging"
	"deeplinker/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow    bool
		lines     int
		token     string
		component string
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			opts := logs.Options{
				Lines:     lines,
				Follow:    follow,
				Token:     token,
				Component: component,
				OnFallback: func(path string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "daemon unavailable, reading %s\n", path)
				},
			}
			if cfg := ctx.configValue(); cfg != nil {
				opts.FilePath = logs.FilePath(cfg.Paths.LogDir)
			}
			_, err := logs.Stream(cmd.Context(), ctx.client(), opts, func(evt logging.LogEvent) error {
				return printEvents(out, []logging.LogEvent{evt}, jsonOut)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent events to show")
	cmd.Flags().StringVar(&token, "for", "", "Only events for this token")
	cmd.Flags().StringVar(&component, "component", "", "Only events from this component")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print raw JSON events")
	return cmd
}

func printEvents(out io.Writer, events []logging.LogEvent, jsonOut bool) error {
	for _, evt := range events {
		if jsonOut {
			if err := writeJSONLine(out, evt); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, formatEvent(evt))
	}
	return nil
}

func formatEvent(evt logging.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format(time.TimeOnly))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(evt.Level)))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	b.WriteString(" " + evt.Message)
	if evt.Token != "" {
		b.WriteString(" token=" + evt.Token)
	}
	if evt.Stage != "" {
		b.WriteString(" stage=" + evt.Stage)
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		b.WriteString(" " + key + "=" + evt.Fields[key])
	}
	return b.String()
}

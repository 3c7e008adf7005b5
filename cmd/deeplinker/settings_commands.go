package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"deeplinker/internal/ingest"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change runtime derivation settings",
	}

	var jsonOutput bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show every effective setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Settings(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp.Settings)
			}
			keys := make([]string, 0, len(resp.Settings))
			for key := range resp.Settings {
				keys = append(keys, key)
			}
			slices.Sort(keys)
			rows := make([][]string, 0, len(keys))
			for _, key := range keys {
				rows = append(rows, []string{key, string(resp.Settings[key])})
			}
			writeTable(cmd.OutOrStdout(), []string{"Key", "Value"}, rows, nil)
			return nil
		},
	}
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	getCmd := &cobra.Command{
		Use:       "get <key>",
		Short:     "Show one effective setting",
		Args:      cobra.ExactArgs(1),
		ValidArgs: ingest.SettingKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Setting(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(resp.Value))
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Persist a setting override",
		Long:      "Persist a setting override. Values are JSON literals; bare words are sent as strings.\nKeys: " + strings.Join(ingest.SettingKeys, ", "),
		Args:      cobra.ExactArgs(2),
		ValidArgs: ingest.SettingKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().SetSetting(cmd.Context(), args[0], settingLiteral(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", resp.Key, string(resp.Value))
			return nil
		},
	}

	settingsCmd.AddCommand(listCmd, getCmd, setCmd)
	return settingsCmd
}

// settingLiteral passes valid JSON through and quotes anything else, so
// `set watermark_text hello` and `set preview_length 5` both work.
func settingLiteral(value string) json.RawMessage {
	trimmed := strings.TrimSpace(value)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage(strconv.Quote(value))
}

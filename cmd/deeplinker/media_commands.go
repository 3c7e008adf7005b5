package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"deeplinker/internal/api"
	"deeplinker/internal/config"
	"deeplinker/internal/ingest"
	"deeplinker/internal/transfer"
)

type ingestFlags struct {
	kind       string
	token      string
	title      string
	size       int64
	preview    bool
	seconds    int
	collage    bool
	frames     int
	watermark  bool
	text       string
	position   string
	opacity    float64
	target     string
	protect    bool
	jsonOutput bool
}

func (f *ingestFlags) register(flags *pflag.FlagSet) {
	flags.StringVarP(&f.kind, "kind", "k", "video", "Media kind (video or photo)")
	flags.StringVar(&f.token, "token", "", "Explicit token instead of a generated one")
	flags.StringVar(&f.title, "title", "", "Display title (defaults to the file name)")
	flags.Int64Var(&f.size, "size", 0, "Declared size in bytes for remote sources")
	flags.BoolVar(&f.preview, "preview", false, "Generate a preview clip")
	flags.IntVar(&f.seconds, "preview-seconds", 0, "Preview clip length in seconds")
	flags.BoolVar(&f.collage, "collage", false, "Generate a frame collage")
	flags.IntVar(&f.frames, "frames", 0, "Collage frame count (4, 6, 9 or 12)")
	flags.BoolVar(&f.watermark, "watermark", false, "Overlay a text watermark")
	flags.StringVar(&f.text, "watermark-text", "", "Watermark text")
	flags.StringVar(&f.position, "watermark-position", "", "Watermark anchor, e.g. bottom-right")
	flags.Float64Var(&f.opacity, "watermark-opacity", 0, "Watermark opacity between 0.1 and 1.0")
	flags.StringVar(&f.target, "watermark-target", "", "Watermark base: auto, raw, preview or collage")
	flags.BoolVar(&f.protect, "protect", false, "Mark delivered content as protected")
	flags.BoolVar(&f.jsonOutput, "json", false, "Output as JSON")
}

// options sets only the overrides the user passed so unset flags fall back
// to the daemon's settings.
func (f *ingestFlags) options(flags *pflag.FlagSet) ingest.Options {
	opts := ingest.Options{
		Token:      strings.TrimSpace(f.token),
		Title:      strings.TrimSpace(f.title),
		SourceSize: f.size,
	}
	if flags.Changed("preview") {
		opts.Preview = &f.preview
	}
	if flags.Changed("preview-seconds") {
		opts.PreviewSeconds = &f.seconds
	}
	if flags.Changed("collage") {
		opts.Collage = &f.collage
	}
	if flags.Changed("frames") {
		opts.CollageFrames = &f.frames
	}
	if flags.Changed("watermark") {
		opts.Watermark = &f.watermark
	}
	if flags.Changed("watermark-text") {
		opts.WatermarkText = &f.text
	}
	if flags.Changed("watermark-position") {
		opts.WatermarkPosition = &f.position
	}
	if flags.Changed("watermark-opacity") {
		opts.WatermarkOpacity = &f.opacity
	}
	if flags.Changed("watermark-target") {
		opts.WatermarkTarget = &f.target
	}
	if flags.Changed("protect") {
		opts.Protected = &f.protect
	}
	return opts
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	flags := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   "ingest <path-or-url>",
		Short: "Upload media and print its deep link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := resolveSource(args[0])
			if err != nil {
				return err
			}
			resp, err := ctx.client().Ingest(cmd.Context(), api.IngestRequest{
				Source:  source,
				Kind:    flags.kind,
				Options: flags.options(cmd.Flags()),
			})
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Token: %s\n", resp.Item.Token)
			fmt.Fprintf(out, "Link:  %s\n", resp.Item.Link)
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(out, "No derivations requested; link serves the original")
				return nil
			}
			stages := make([]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				stages = append(stages, job.Stage)
			}
			fmt.Fprintf(out, "Queued: %s\n", strings.Join(stages, ", "))
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func resolveSource(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if transfer.IsRemote(arg) {
		return arg, nil
	}
	expanded, err := config.ExpandPath(arg)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var after string
	var limit int
	var all bool
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			var items []api.MediaItem
			cursor := after
			for {
				page, err := client.List(cmd.Context(), cursor, limit)
				if err != nil {
					return err
				}
				items = append(items, page.Items...)
				if !all || page.Next == "" {
					cursor = page.Next
					break
				}
				cursor = page.Next
			}
			if jsonOutput {
				return writeJSON(cmd, api.MediaListResponse{Items: items, Next: cursor})
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No media registered")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.Token,
					humanLabel(item.Kind),
					item.Title,
					yesNo(item.Protected),
					strconv.FormatInt(item.SourceSize, 10),
					item.CreatedAt,
				})
			}
			writeTable(out, []string{"Token", "Kind", "Title", "Protected", "Bytes", "Created"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
			if cursor != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "More results: --after %s\n", cursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "List tokens after this cursor")
	cmd.Flags().IntVar(&limit, "limit", 100, "Page size")
	cmd.Flags().BoolVar(&all, "all", false, "Follow cursors until every token is listed")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <token>",
		Short: "Show a token and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := ctx.client().Describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, item)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Token:     %s\n", item.Token)
			fmt.Fprintf(out, "Kind:      %s\n", humanLabel(item.Kind))
			if item.Title != "" {
				fmt.Fprintf(out, "Title:     %s\n", item.Title)
			}
			fmt.Fprintf(out, "Source:    %s\n", item.SourceRef)
			fmt.Fprintf(out, "Protected: %s\n", yesNo(item.Protected))
			fmt.Fprintf(out, "Link:      %s\n", item.Link)
			if len(item.Artifacts) == 0 {
				fmt.Fprintln(out, "Artifacts: none")
				return nil
			}
			fmt.Fprintln(out)
			rows := make([][]string, 0, len(item.Artifacts))
			for _, artifact := range item.Artifacts {
				rows = append(rows, []string{
					humanLabel(artifact.Stage),
					humanLabel(artifact.Status),
					artifact.StorageRef,
					artifact.Error,
				})
			}
			writeTable(out, []string{"Stage", "Status", "Ref", "Error"}, rows, nil)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <token>...",
		Aliases: []string{"rm"},
		Short:   "Delete tokens and their artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			out := cmd.OutOrStdout()
			for _, token := range args {
				if _, err := client.Delete(cmd.Context(), token); err != nil {
					return fmt.Errorf("delete %s: %w", token, err)
				}
				fmt.Fprintf(out, "Deleted %s\n", token)
			}
			return nil
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var token string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent pipeline jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Jobs(cmd.Context(), token)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{job.ID, job.Token, humanLabel(job.Stage), humanLabel(job.State), job.Error})
			}
			writeTable(out, []string{"ID", "Token", "Stage", "State", "Error"}, rows, nil)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "for", "", "Only jobs for this token")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

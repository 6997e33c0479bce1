package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/ZacxDev/video-editor/internal/transform"
	"github.com/ZacxDev/video-editor/pkg/types"
	"github.com/ZacxDev/video-editor/pkg/videoeditor"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "video-editor",
		Short: "Edit hosted videos through delivery URL transformations",
		Long: `video-editor uploads videos to a hosted media API and builds the
transformation URLs that trim, crop, rotate, caption and restyle them.

Examples:
  # Upload a clip and print its preview URL
  video-editor upload -i clip.mp4

  # Build a download URL for a trimmed, rotated clip
  video-editor url --public-id clip --trim-start 2 --trim-end 10 --rotate 90 --download

  # Find a working source after the player failed to decode one
  video-editor recover --kind decode https://res.cloudinary.com/demo/video/upload/v1/clip.mov

  # Run the editor API
  video-editor serve --port 8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	uploadCmd = &cobra.Command{
		Use:   "upload",
		Short: "Upload a video file",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath, _ := cmd.Flags().GetString("input")
			publicID, _ := cmd.Flags().GetString("public-id")

			e, err := newEditor(cmd)
			if err != nil {
				return err
			}

			asset, err := e.Upload(cmd.Context(), inputPath, publicID, printProgress("Uploaded"))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			preview, _ := videoeditor.PreviewURL(*asset, videoeditor.State{})
			fmt.Printf("Public ID: %s\nVersion:   %d\nDuration:  %.2fs\nSize:      %s\nPreview:   %s\n",
				asset.PublicID, asset.Version, asset.Duration, humanize.Bytes(uint64(asset.Bytes)), preview)
			return nil
		},
	}

	urlCmd = &cobra.Command{
		Use:   "url",
		Short: "Build a preview or download URL",
		Long: fmt.Sprintf(`Build the delivery URL for a set of edits. Edits come from flags or
from a JSON/YAML state file; flags override the file.

Download formats:
%s`, formatSupportedFormats()),
		RunE: func(cmd *cobra.Command, args []string) error {
			publicID, _ := cmd.Flags().GetString("public-id")
			version, _ := cmd.Flags().GetInt64("version")
			ext, _ := cmd.Flags().GetString("ext")
			statePath, _ := cmd.Flags().GetString("state")
			download, _ := cmd.Flags().GetBool("download")
			formatName, _ := cmd.Flags().GetString("format")

			e, err := newEditor(cmd)
			if err != nil {
				return err
			}

			var state transform.State
			if statePath != "" {
				if state, err = transform.LoadState(statePath); err != nil {
					return err
				}
			}
			applyStateFlags(cmd, &state)

			asset := e.Asset(publicID, version, ext)
			var url string
			if download {
				url, err = videoeditor.DownloadURL(asset, state, formatName)
			} else {
				url, err = videoeditor.PreviewURL(asset, state)
			}
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}

	probeCmd = &cobra.Command{
		Use:   "probe <url>",
		Short: "Check whether a delivery URL is served",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEditor(cmd)
			if err != nil {
				return err
			}
			res, err := e.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	recoverCmd = &cobra.Command{
		Use:   "recover <url>",
		Short: "Find a working fallback for a URL that failed to play",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kindName, _ := cmd.Flags().GetString("kind")
			kind, ok := types.ParseFailureKind(kindName)
			if !ok {
				return fmt.Errorf("unknown failure kind %q (use %s or %s)", kindName, types.FailureNotFound, types.FailureDecode)
			}

			e, err := newEditor(cmd)
			if err != nil {
				return err
			}
			url, err := e.Recover(cmd.Context(), args[0], kind)
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect <url>",
		Short: "Probe a delivered video with ffprobe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatName, _ := cmd.Flags().GetString("format")

			e, err := newEditor(cmd)
			if err != nil {
				return err
			}
			res, err := e.Inspect(cmd.Context(), args[0], formatName)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	downloadCmd = &cobra.Command{
		Use:   "download <url>",
		Short: "Save a delivered video to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputPath, _ := cmd.Flags().GetString("output")
			if outputPath == "" {
				outputPath = path.Base(strings.SplitN(args[0], "?", 2)[0])
			}

			e, err := newEditor(cmd)
			if err != nil {
				return err
			}
			n, err := e.Download(cmd.Context(), args[0], outputPath, printProgress("Downloaded"))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}
			fmt.Printf("Saved %s to %s\n", humanize.Bytes(uint64(n)), outputPath)
			return nil
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete <public_id>",
		Short: "Delete an uploaded video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEditor(cmd)
			if err != nil {
				return err
			}
			if err := e.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the editor HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEditor(cmd)
			if err != nil {
				return err
			}
			defer e.Logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return e.Serve(ctx)
		},
	}
)

func newEditor(cmd *cobra.Command) (*videoeditor.Editor, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cloudName, _ := cmd.Flags().GetString("cloud-name")
	verbose, _ := cmd.Flags().GetBool("verbose")

	opts := videoeditor.Options{
		ConfigPath: configPath,
		CloudName:  cloudName,
		Verbose:    verbose,
	}
	if cmd.Flags().Lookup("port") != nil {
		opts.HTTPPort, _ = cmd.Flags().GetString("port")
	}
	return videoeditor.New(opts)
}

// applyStateFlags copies the edit flags the user actually set onto state.
func applyStateFlags(cmd *cobra.Command, state *transform.State) {
	flags := cmd.Flags()
	if flags.Changed("trim-start") {
		state.Trim.Start, _ = flags.GetFloat64("trim-start")
	}
	if flags.Changed("trim-end") {
		state.Trim.End, _ = flags.GetFloat64("trim-end")
	}
	if flags.Changed("rotate") {
		state.Rotate.Angle, _ = flags.GetInt("rotate")
	}
	if flags.Changed("flip-horizontal") {
		state.Rotate.FlipHorizontal, _ = flags.GetBool("flip-horizontal")
	}
	if flags.Changed("flip-vertical") {
		state.Rotate.FlipVertical, _ = flags.GetBool("flip-vertical")
	}
	if flags.Changed("border-width") {
		state.Border.Width, _ = flags.GetInt("border-width")
	}
	if flags.Changed("border-color") || (state.Border.Width > 0 && state.Border.Color == "") {
		state.Border.Color, _ = flags.GetString("border-color")
	}
	if flags.Changed("text") {
		state.Text.Content, _ = flags.GetString("text")
	}
	if flags.Changed("speed") {
		state.Effects.Speed, _ = flags.GetInt("speed")
	}
	if flags.Changed("reverse") {
		state.Effects.Reverse, _ = flags.GetBool("reverse")
	}
}

func printProgress(verb string) func(sent, total int64) {
	return func(sent, total int64) {
		if total > 0 {
			fmt.Fprintf(os.Stderr, "\r%s %s of %s (%d%%)", verb,
				humanize.Bytes(uint64(sent)), humanize.Bytes(uint64(total)), sent*100/total)
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s %s", verb, humanize.Bytes(uint64(sent)))
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatSupportedFormats() string {
	var sb strings.Builder
	for _, name := range videoeditor.GetSupportedFormats() {
		sb.WriteString(fmt.Sprintf("- %s\n", name))
	}
	return sb.String()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default is $XDG_CONFIG_HOME/video-editor/config.toml)")
	rootCmd.PersistentFlags().String("cloud-name", "", "Cloud name, overrides config")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Upload command flags
	uploadCmd.Flags().StringP("input", "i", "", "Input video file")
	uploadCmd.Flags().String("public-id", "", "Public ID for the upload (default is a random UUID)")
	uploadCmd.MarkFlagRequired("input")

	// URL command flags
	urlCmd.Flags().String("public-id", "", "Public ID of the uploaded video")
	urlCmd.Flags().Int64("version", 0, "Asset version")
	urlCmd.Flags().String("ext", "mp4", "Extension of the uploaded video")
	urlCmd.Flags().String("state", "", "JSON or YAML file with the edits")
	urlCmd.Flags().Bool("download", false, "Build the download URL instead of the preview URL")
	urlCmd.Flags().String("format", "mp4", "Download format")
	urlCmd.Flags().Float64("trim-start", 0, "Trim start in seconds")
	urlCmd.Flags().Float64("trim-end", 0, "Trim end in seconds")
	urlCmd.Flags().Int("rotate", 0, "Rotation angle in degrees")
	urlCmd.Flags().Bool("flip-horizontal", false, "Mirror horizontally")
	urlCmd.Flags().Bool("flip-vertical", false, "Mirror vertically")
	urlCmd.Flags().Int("border-width", 0, "Border width in pixels")
	urlCmd.Flags().String("border-color", "000000", "Border color as hex")
	urlCmd.Flags().String("text", "", "Caption text")
	urlCmd.Flags().Int("speed", 0, "Playback speed change, -50..100")
	urlCmd.Flags().Bool("reverse", false, "Play backwards")
	urlCmd.MarkFlagRequired("public-id")

	// Recover and inspect flags
	recoverCmd.Flags().String("kind", string(types.FailureNotFound), "Failure kind (not-found or decode)")
	inspectCmd.Flags().String("format", "", "Delivery format the player expects (default is the probed container)")

	downloadCmd.Flags().StringP("output", "o", "", "Output file (default is the URL's file name)")

	serveCmd.Flags().String("port", "", "HTTP port, overrides config")

	rootCmd.AddCommand(uploadCmd, urlCmd, probeCmd, recoverCmd, inspectCmd, downloadCmd, deleteCmd, serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

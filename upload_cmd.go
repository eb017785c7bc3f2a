package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/crashpusher/crashctl/internal/upload"
)

var flagFileType string

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a file in chunks and wait for server processing",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}

	cmd.Flags().StringVar(&flagFileType, "type", "archive", "server-side file type (archive, build, resource)")

	return cmd
}

func newUploadCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload-cancel [SESSION_ID]",
		Short: "Cancel an upload session on the server",
		Long: "Cancel a server-side upload session. Without an argument, cancels every " +
			"session recorded locally by interrupted uploads.",
		Args: cobra.MaximumNArgs(1),
		RunE: runUploadCancel,
	}
}

func runUpload(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)
	engine := newUploadEngine(client, logger)

	// Uploads can outlive any fixed deadline; bound them by Ctrl-C instead.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := args[0]

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot upload %s: %w", path, err)
	}

	statusf("Uploading %s (%s)...\n", path, humanize.IBytes(uint64(info.Size())))

	bar := newProgressBar()

	result, err := engine.UploadFile(ctx, path, flagFileType, bar.progress, bar.stage)

	bar.done()

	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(map[string]string{
			"session_id": result.SessionID,
			"file_info":  result.FileInfo,
		})
	}

	statusf("Uploaded %s in %d chunks.\n", result.Filename, result.Chunks)
	fmt.Println(result.FileInfo)

	return nil
}

func runUploadCancel(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)
	engine := newUploadEngine(client, logger)
	store := upload.NewSessionStore(resolvedCfg.Upload.DataDir, logger)

	ctx, cancel := requestContext()
	defer cancel()

	if len(args) == 1 {
		if err := engine.Cancel(ctx, args[0]); err != nil {
			return err
		}

		statusf("Canceled upload session %s.\n", args[0])

		return nil
	}

	records, err := store.List()
	if err != nil {
		return err
	}

	if len(records) == 0 {
		statusf("No recorded upload sessions.\n")
		return nil
	}

	for _, rec := range records {
		if err := engine.Cancel(ctx, rec.SessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to cancel %s: %v\n", rec.SessionID, err)
			continue
		}

		statusf("Canceled upload session %s (%s).\n", rec.SessionID, rec.LocalPath)
	}

	return nil
}

// progressBar renders upload progress on stderr. Rendering is suppressed
// when stderr is not a terminal or when --quiet is set; callbacks still run
// so --json output stays clean either way.
type progressBar struct {
	render  bool
	percent int
	label   string
}

func newProgressBar() *progressBar {
	return &progressBar{
		render: !flagQuiet && isatty.IsTerminal(os.Stderr.Fd()),
		label:  string(upload.StageUploading),
	}
}

func (b *progressBar) progress(percent int) {
	b.percent = percent
	b.draw()
}

func (b *progressBar) stage(s upload.Stage) {
	b.label = string(s)
	b.draw()
}

func (b *progressBar) draw() {
	if !b.render {
		return
	}

	const width = 30

	filled := b.percent * width / 100
	if filled > width {
		filled = width
	}

	fmt.Fprintf(os.Stderr, "\r[%-*s] %3d%% %-12s",
		width, strings.Repeat("=", filled), b.percent, b.label)
}

func (b *progressBar) done() {
	if b.render {
		fmt.Fprint(os.Stderr, "\n")
	}
}

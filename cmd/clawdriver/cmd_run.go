package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/clawdriver/internal/driver"
	"github.com/user/clawdriver/internal/mailbox"
	"github.com/user/clawdriver/internal/output"
	"github.com/user/clawdriver/internal/types"
	"github.com/user/clawdriver/pkg/engine/claudecli"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Read startup input from stdin and drive the session",
	Args:  cobra.NoArgs,
	RunE:  runDriver,
}

// runDriver is the process entrypoint: one JSON startup document on
// stdin, marker-wrapped documents on stdout, logs on stderr.
func runDriver(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	out := output.NewWriter(os.Stdout)

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		out.Error(fmt.Sprintf("reading startup input: %v", err), "", "")
		return fmt.Errorf("read startup input: %w", err)
	}
	input, err := types.DecodeStartupInput(data)
	if err != nil {
		out.Error(err.Error(), "", "")
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		out.Error(fmt.Sprintf("creating data dir: %v", err), "", "")
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := claudecli.New(cfg.Engine.Binary, cfg.Engine.Model)
	box := mailbox.New(cfg.MailboxDir)
	d := driver.New(cfg, eng, box, out)

	slog.Info("clawdriver started",
		"data_dir", cfg.DataDir,
		"mailbox_dir", cfg.MailboxDir,
		"engine_binary", cfg.Engine.Binary,
		"resume_session", input.ResumeSessionID,
		"home_session", input.Privilege.IsHomeSession,
		"top_privilege", input.Privilege.IsTopPrivilege,
	)

	if err := d.Run(ctx, input); err != nil {
		// The matching error document was already emitted.
		return err
	}
	slog.Info("clawdriver finished",
		"session_id", string(d.Identity().SessionID),
		"anchor", string(d.Identity().Anchor),
	)
	return nil
}

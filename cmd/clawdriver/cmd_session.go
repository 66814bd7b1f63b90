package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/clawdriver/internal/state"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the persisted session identity",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the last known session identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		identity, err := state.NewIdentityStore(cfg.DataDir).Load()
		if err != nil {
			return fmt.Errorf("load session identity: %w", err)
		}
		if identity.SessionID == "" {
			fmt.Println("No session recorded.")
			return nil
		}
		fmt.Printf("session_id: %s\n", identity.SessionID)
		if identity.Anchor != "" {
			fmt.Printf("anchor:     %s\n", identity.Anchor)
		}
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the persisted session identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		path := filepath.Join(cfg.DataDir, "session.json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove session record: %w", err)
		}
		fmt.Println("Session record cleared.")
		return nil
	},
}

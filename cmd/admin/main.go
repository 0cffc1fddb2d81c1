package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	persistlog "caddie.ai/internal/persistence/log"
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Inspect and control a caddie server",
	Long:  `admin reads the runtime data directory (logs, session index) and drives a running server over its HTTP control API.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var (
	dataDir string
	baseURL string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print audit log entries",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

var auditAction string

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base url")

	auditCmd.Flags().StringVar(&auditAction, "action", "", "only print entries with this action")

	rootCmd.AddCommand(dbCmd, auditCmd, stateCmd, startCmd, stopCmd, settingsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runList prints the event and audit log files under the data dir.
func runList(cmd *cobra.Command, args []string) error {
	for _, kind := range []string{"events", "audit"} {
		files, err := persistlog.ListFiles(filepath.Join(dataDir, kind), kind)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", kind, err)
		}
		for _, f := range files {
			fmt.Println(f)
		}
	}
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	files, err := persistlog.ListFiles(filepath.Join(dataDir, "audit"), "audit")
	if err != nil {
		return fmt.Errorf("list audit: %w", err)
	}
	for _, f := range files {
		err := persistlog.ReadAudit(f, func(e persistlog.AuditEntry) error {
			if auditAction != "" && e.Action != auditAction {
				return nil
			}
			printJSON(e)
			return nil
		})
		if err != nil {
			return fmt.Errorf("read audit: %w", err)
		}
	}
	return nil
}

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkcap/linkcap/internal/config"
	"github.com/linkcap/linkcap/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect tracked capture sessions",
	Long: `Inspect the capture sessions tracked in the session store.
Requires a shared store backend (redis or sqlite); the in-memory store
is private to the running service process.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked capture sessions",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a tracked capture session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(records) == 0 {
		cmd.Println("No tracked sessions.")
		return nil
	}

	cmd.Println("Tracked sessions:")
	for _, rec := range records {
		age := time.Since(rec.CreatedAt).Round(time.Second)
		cmd.Printf("- id: %s | state: %s | age: %s\n", rec.SessionID, rec.State, age)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	sessionID := strings.TrimSpace(args[0])
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	cmd.Printf("Deleted session %s.\n", sessionID)
	return nil
}

func openSessionStore() (session.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return session.NewStore(session.Options{
		Backend:    cfg.Store.Backend,
		SessionTTL: time.Duration(cfg.Store.SessionTTL) * time.Second,
		Redis: session.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			PoolSize: cfg.Store.Redis.PoolSize,
		},
		SQLitePath: cfg.Store.SQLitePath,
	})
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casgen-dev/casgen/internal/auth"
	"github.com/casgen-dev/casgen/internal/types"
)

var (
	createName        string
	createEmail       string
	createExpiresIn   time.Duration
	createDemo        bool
	createMaxPatients int
	createMaxDaily    int
	createPerMinute   int
	createPerHour     int
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	Long: `Create a new API key and print its secret.

Examples:
  keyctl create --name "corps exercise 26-02" --email ops@example.mil
  keyctl create --name demo-tenant --demo
  keyctl create --name bounded --max-patients 5000 --max-daily 50 --expires-in 720h`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "Human-readable key name (required)")
	createCmd.Flags().StringVar(&createEmail, "email", "", "Contact email")
	createCmd.Flags().DurationVar(&createExpiresIn, "expires-in", 0, "Lifetime from now, e.g. 720h (0 = never expires)")
	createCmd.Flags().BoolVar(&createDemo, "demo", false, "Apply the restricted demo limit set")
	createCmd.Flags().IntVar(&createMaxPatients, "max-patients", 0, "Max patients per request (0 = unlimited)")
	createCmd.Flags().IntVar(&createMaxDaily, "max-daily", 0, "Max requests per day (0 = unlimited)")
	createCmd.Flags().IntVar(&createPerMinute, "max-minute", auth.DefaultPerMinute, "Max requests per minute (0 = unlimited)")
	createCmd.Flags().IntVar(&createPerHour, "max-hour", auth.DefaultPerHour, "Max requests per hour (0 = unlimited)")
	_ = createCmd.MarkFlagRequired("name")
}

func runCreate(cmd *cobra.Command, args []string) error {
	raw, err := auth.NewRawKey()
	if err != nil {
		return err
	}

	limits := auth.DefaultLimits()
	if createDemo {
		limits = auth.DemoLimits()
	}
	if createMaxPatients > 0 {
		limits.MaxPatientsPerRequest = &createMaxPatients
	}
	if createMaxDaily > 0 {
		limits.MaxRequestsPerDay = &createMaxDaily
	}
	if cmd.Flags().Changed("max-minute") {
		limits.MaxRequestsPerMinute = createPerMinute
	}
	if cmd.Flags().Changed("max-hour") {
		limits.MaxRequestsPerHour = createPerHour
	}

	now := time.Now().UTC()
	key := &types.APIKey{
		ID:        uuid.NewString(),
		KeyHash:   auth.HashKey(raw),
		Name:      createName,
		Email:     createEmail,
		IsActive:  true,
		IsDemo:    createDemo,
		Limits:    limits,
		Counters:  types.KeyCounters{DailyResetAt: types.NextDailyReset(now)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if createExpiresIn > 0 {
		exp := now.Add(createExpiresIn)
		key.ExpiresAt = &exp
	}

	if err := st.CreateKey(cmd.Context(), key); err != nil {
		return err
	}
	return printSecret(key, raw)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := st.ListKeys(cmd.Context())
		if err != nil {
			return err
		}
		return printKeys(keys)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <key-id>",
	Short: "Show one API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := st.GetKeyByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printKey(key)
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <key-id>",
	Short: "Reactivate a deactivated API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := setActive(cmd.Context(), args[0], true)
		if err != nil {
			return err
		}
		fmt.Printf("Key %s (%s) activated\n", key.ID, key.Name)
		return nil
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <key-id>",
	Short: "Deactivate an API key without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := setActive(cmd.Context(), args[0], false)
		if err != nil {
			return err
		}
		fmt.Printf("Key %s (%s) deactivated\n", key.ID, key.Name)
		return nil
	},
}

func setActive(ctx context.Context, id string, active bool) (*types.APIKey, error) {
	key, err := st.GetKeyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	key.IsActive = active
	key.UpdatedAt = time.Now().UTC()
	if err := st.UpdateKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Delete an API key permanently",
	Long: `Delete an API key permanently.

Jobs submitted under the key keep their records; the tenant just loses
access. Prefer deactivate when the key might come back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Resolve first so a missing id reports not-found, not silence.
		key, err := st.GetKeyByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := st.DeleteKey(cmd.Context(), key.ID); err != nil {
			return err
		}
		fmt.Printf("Key %s (%s) deleted\n", key.ID, key.Name)
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage <key-id>",
	Short: "Show a key's usage counters and limits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := st.GetKeyByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printUsage(key)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate usage across all keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := st.ListKeys(cmd.Context())
		if err != nil {
			return err
		}
		return printStats(aggregate(keys))
	},
}

var (
	limitsMaxPatients int
	limitsMaxDaily    int
	limitsPerMinute   int
	limitsPerHour     int
)

var limitsCmd = &cobra.Command{
	Use:   "limits <key-id>",
	Short: "Update a key's admission limits",
	Long: `Update a key's admission limits. Only the flags given change;
0 means unlimited.

Examples:
  keyctl limits 7f3d... --max-patients 10000
  keyctl limits 7f3d... --max-minute 0 --max-hour 0`,
	Args: cobra.ExactArgs(1),
	RunE: runLimits,
}

func init() {
	limitsCmd.Flags().IntVar(&limitsMaxPatients, "max-patients", 0, "Max patients per request (0 = unlimited)")
	limitsCmd.Flags().IntVar(&limitsMaxDaily, "max-daily", 0, "Max requests per day (0 = unlimited)")
	limitsCmd.Flags().IntVar(&limitsPerMinute, "max-minute", 0, "Max requests per minute (0 = unlimited)")
	limitsCmd.Flags().IntVar(&limitsPerHour, "max-hour", 0, "Max requests per hour (0 = unlimited)")
}

func runLimits(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if !flags.Changed("max-patients") && !flags.Changed("max-daily") &&
		!flags.Changed("max-minute") && !flags.Changed("max-hour") {
		return fmt.Errorf("%w: nothing to change; pass at least one limit flag", errValidation)
	}

	key, err := st.GetKeyByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if flags.Changed("max-patients") {
		key.Limits.MaxPatientsPerRequest = optional(limitsMaxPatients)
	}
	if flags.Changed("max-daily") {
		key.Limits.MaxRequestsPerDay = optional(limitsMaxDaily)
	}
	if flags.Changed("max-minute") {
		key.Limits.MaxRequestsPerMinute = limitsPerMinute
	}
	if flags.Changed("max-hour") {
		key.Limits.MaxRequestsPerHour = limitsPerHour
	}
	key.UpdatedAt = time.Now().UTC()

	if err := st.UpdateKey(cmd.Context(), key); err != nil {
		return err
	}
	return printKey(key)
}

// optional maps the 0-means-unlimited flag convention onto the nil
// pointer the limit fields use.
func optional(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

var (
	extendBy    time.Duration
	extendUntil string
	extendNever bool
)

var extendCmd = &cobra.Command{
	Use:   "extend <key-id>",
	Short: "Move a key's expiry",
	Long: `Move a key's expiry.

Examples:
  keyctl extend 7f3d... --by 720h
  keyctl extend 7f3d... --until 2027-01-01T00:00:00Z
  keyctl extend 7f3d... --never`,
	Args: cobra.ExactArgs(1),
	RunE: runExtend,
}

func init() {
	extendCmd.Flags().DurationVar(&extendBy, "by", 0, "Extend from the current expiry (or now when none) by this duration")
	extendCmd.Flags().StringVar(&extendUntil, "until", "", "Set the expiry to an RFC 3339 timestamp")
	extendCmd.Flags().BoolVar(&extendNever, "never", false, "Remove the expiry entirely")
}

func runExtend(cmd *cobra.Command, args []string) error {
	set := 0
	for _, changed := range []bool{cmd.Flags().Changed("by"), cmd.Flags().Changed("until"), extendNever} {
		if changed {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: pass exactly one of --by, --until or --never", errValidation)
	}

	key, err := st.GetKeyByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch {
	case extendNever:
		key.ExpiresAt = nil
	case extendUntil != "":
		ts, err := time.Parse(time.RFC3339, extendUntil)
		if err != nil {
			return fmt.Errorf("%w: --until must be RFC 3339: %v", errValidation, err)
		}
		key.ExpiresAt = &ts
	default:
		if extendBy <= 0 {
			return fmt.Errorf("%w: --by must be positive", errValidation)
		}
		anchor := now
		if key.ExpiresAt != nil && key.ExpiresAt.After(now) {
			anchor = *key.ExpiresAt
		}
		exp := anchor.Add(extendBy)
		key.ExpiresAt = &exp
	}
	key.UpdatedAt = now

	if err := st.UpdateKey(cmd.Context(), key); err != nil {
		return err
	}
	if key.ExpiresAt == nil {
		fmt.Printf("Key %s (%s) no longer expires\n", key.ID, key.Name)
	} else {
		fmt.Printf("Key %s (%s) now expires %s\n", key.ID, key.Name, key.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <key-id>",
	Short: "Re-issue a key's secret",
	Long: `Re-issue a key's secret. Limits, counters and expiry carry over;
the old secret stops working immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := st.GetKeyByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		raw, err := auth.NewRawKey()
		if err != nil {
			return err
		}
		key.KeyHash = auth.HashKey(raw)
		key.UpdatedAt = time.Now().UTC()

		if err := st.UpdateKey(cmd.Context(), key); err != nil {
			return err
		}
		return printSecret(key, raw)
	},
}

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired and deactivated keys",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "List what would be deleted without deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	keys, err := st.ListKeys(cmd.Context())
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var doomed []*types.APIKey
	for _, key := range keys {
		if !key.IsActive || key.Expired(now) {
			doomed = append(doomed, key)
		}
	}

	if len(doomed) == 0 {
		fmt.Println("Nothing to clean up")
		return nil
	}
	if cleanupDryRun {
		fmt.Printf("Would delete %d keys:\n", len(doomed))
		return printKeys(doomed)
	}

	for _, key := range doomed {
		if err := st.DeleteKey(cmd.Context(), key.ID); err != nil {
			return fmt.Errorf("delete key %s: %w", key.ID, err)
		}
	}
	fmt.Printf("Deleted %d keys\n", len(doomed))
	return nil
}

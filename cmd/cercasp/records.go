package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cercasp-go/internal/app"
	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/session"
)

// readPassword takes the account password from CERCASP_PASSWORD or prompts.
func readPassword(label string) (string, error) {
	if p := os.Getenv("CERCASP_PASSWORD"); p != "" {
		return p, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("set CERCASP_PASSWORD or run interactively")
	}
	return app.PromptSecret(os.Stdin, os.Stderr, label)
}

// readNewPassword prompts twice and requires both entries to match.
func readNewPassword() (string, error) {
	if p := os.Getenv("CERCASP_NEW_PASSWORD"); p != "" {
		return p, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("set CERCASP_NEW_PASSWORD or run interactively")
	}
	first, err := app.PromptSecret(os.Stdin, os.Stderr, "New password: ")
	if err != nil {
		return "", err
	}
	second, err := app.PromptSecret(os.Stdin, os.Stderr, "Repeat new password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

func clientInfo(cmd *cobra.Command) session.ClientInfo {
	ip, _ := cmd.Flags().GetString("client-ip")
	return session.ClientInfo{IP: ip, UserAgent: "cercasp-cli"}
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage staff accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add EMAIL",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")

		return runApp("AddUser", false, func(ctx context.Context, a *app.App) error {
			password, err := readNewPassword()
			if err != nil {
				return err
			}
			id, err := a.AddUser(args[0], name, role, password)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s (%s) with role %s\n", id.Email, id.ID, id.Role.DisplayName())
			return nil
		})
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd EMAIL",
	Short: "Change an account password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("ChangePassword", false, func(ctx context.Context, a *app.App) error {
			current, err := readPassword("Current password: ")
			if err != nil {
				return err
			}
			next, err := readNewPassword()
			if err != nil {
				return err
			}
			if err := a.ChangePassword(ctx, args[0], current, next, clientInfo(cmd)); err != nil {
				return err
			}
			fmt.Println("Password changed")
			return nil
		})
	},
}

var userTokenCmd = &cobra.Command{
	Use:   "token EMAIL",
	Short: "Sign in and print a bearer token for the serve endpoints",
	Long: `Sign in and print a bearer token for the serve endpoints.

Send it as "Authorization: Bearer <token>" to POST /sync and GET /queue.
The token stays valid until it expires or the account is disabled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("IssueToken", false, func(ctx context.Context, a *app.App) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			id, err := a.IssueToken(ctx, args[0], password, clientInfo(cmd))
			if err != nil {
				return err
			}
			fmt.Println(id.Token)
			return nil
		})
	},
}

var userResetCmd = &cobra.Command{
	Use:   "reset EMAIL",
	Short: "Issue a password reset token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("ResetPassword", false, func(ctx context.Context, a *app.App) error {
			if err := a.ResetPassword(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println(cercasp.MessageSuccess)
			return nil
		})
	},
}

var userConfirmResetCmd = &cobra.Command{
	Use:   "confirm-reset TOKEN",
	Short: "Set a new password with a reset token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("ConfirmReset", false, func(ctx context.Context, a *app.App) error {
			next, err := readNewPassword()
			if err != nil {
				return err
			}
			if err := a.ConfirmReset(args[0], next); err != nil {
				return err
			}
			fmt.Println("Password changed")
			return nil
		})
	},
}

func userToggleCmd(use, short string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " EMAIL",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp("SetDisabled", false, func(ctx context.Context, a *app.App) error {
				return a.DisableUser(args[0], disabled)
			})
		},
	}
}

// record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Write records",
}

var recordCreateCmd = &cobra.Command{
	Use:   "create COLLECTION",
	Short: "Create a record from JSON on stdin or --data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		data, _ := cmd.Flags().GetString("data")

		raw := []byte(data)
		if data == "" || data == "-" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			raw = b
		}
		var record cercasp.Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("parsing record JSON: %w", err)
		}

		return runApp("CreateRecord", true, func(ctx context.Context, a *app.App) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			res, err := a.CreateRecord(ctx, email, password, clientInfo(cmd), args[0], record)
			if err != nil {
				return err
			}
			if res.Queued {
				fmt.Printf("%s (queue id %d)\n", cercasp.MessageOfflineMode, res.QueueID)
				return nil
			}
			fmt.Println(res.ID)
			return nil
		})
	},
}

// queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline queue",
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show pending items per collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("QueueCount", false, func(ctx context.Context, a *app.App) error {
			depths, err := a.Pending(ctx)
			if err != nil {
				return err
			}
			for _, d := range depths {
				fmt.Printf("%-20s %d\n", d.Collection, d.Pending)
			}
			return nil
		})
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list COLLECTION",
	Short: "List queued items, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("QueueList", false, func(ctx context.Context, a *app.App) error {
			items, err := a.ListQueue(ctx, args[0])
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Queue is empty.")
				return nil
			}
			for _, it := range items {
				fmt.Printf("#%d  %s  %s\n", it.ID, it.EnqueuedAt.Format("2006-01-02 15:04:05"), it.Actor())
			}
			return nil
		})
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear [COLLECTION...]",
	Short: "Drop queued items without syncing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("queued records would be lost: pass --yes to confirm")
		}
		return runApp("QueueClear", false, func(ctx context.Context, a *app.App) error {
			return a.ClearQueue(ctx, args...)
		})
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the offline queue against the remote store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("Sync", false, func(ctx context.Context, a *app.App) error {
			report, err := a.SyncOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d item(s), %d failed\n", report.TotalSynced(), report.TotalFailed())
			for _, e := range report.Errors {
				fmt.Fprintf(os.Stderr, "  %v\n", e)
			}
			return nil
		})
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync loop and HTTP endpoint until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("Serve", false, func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx)
		})
	},
}

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Work with the audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every audit entry's checksum",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("VerifyAudit", false, func(ctx context.Context, a *app.App) error {
			report, err := a.VerifyAudit(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Checked %d entries\n", report.Checked)
			if !report.OK() {
				return fmt.Errorf("%d entries failed verification: %s", len(report.Tampered), strings.Join(report.Tampered, ", "))
			}
			return nil
		})
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Back up the offline queue to the vault",
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload an encrypted copy of the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("SnapshotPush", true, func(ctx context.Context, a *app.App) error {
			key, err := a.SnapshotPush(ctx)
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		})
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull KEY DEST",
	Short: "Download and decrypt a snapshot to DEST",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("SnapshotPull", true, func(ctx context.Context, a *app.App) error {
			return a.SnapshotPull(ctx, args[0], args[1])
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List this instance's snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp("SnapshotList", false, func(ctx context.Context, a *app.App) error {
			objs, err := a.SnapshotList(ctx)
			if err != nil {
				return err
			}
			if len(objs) == 0 {
				fmt.Println("No snapshots.")
				return nil
			}
			for _, o := range objs {
				fmt.Printf("%s  %d  %s\n", o.Modified.Format("2006-01-02 15:04:05"), o.Size, o.Key)
			}
			return nil
		})
	},
}

func init() {
	userAddCmd.Flags().String("name", "", "Display name")
	userAddCmd.Flags().String("role", string(cercasp.RoleStaff), "FOUNDER, COORDINATOR, STAFF or VIEWER")
	userPasswdCmd.Flags().String("client-ip", "127.0.0.1", "Address checked against the allow-list")
	userTokenCmd.Flags().String("client-ip", "127.0.0.1", "Address checked against the allow-list")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userTokenCmd)
	userCmd.AddCommand(userResetCmd)
	userCmd.AddCommand(userConfirmResetCmd)
	userCmd.AddCommand(userToggleCmd("disable", "Block sign-in for an account", true))
	userCmd.AddCommand(userToggleCmd("enable", "Allow sign-in for an account", false))

	recordCreateCmd.Flags().String("email", "", "Account to act as")
	recordCreateCmd.Flags().String("data", "", "Record JSON; reads stdin when empty or -")
	recordCreateCmd.Flags().String("client-ip", "127.0.0.1", "Address checked against the allow-list")
	recordCreateCmd.MarkFlagRequired("email")
	recordCmd.AddCommand(recordCreateCmd)

	queueClearCmd.Flags().Bool("yes", false, "Confirm dropping queued records")
	queueCmd.AddCommand(queueCountCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)

	auditCmd.AddCommand(auditVerifyCmd)

	snapshotCmd.AddCommand(snapshotPushCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
	snapshotCmd.AddCommand(snapshotListCmd)

	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(snapshotCmd)
}

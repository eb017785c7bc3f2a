package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crashpusher/crashctl/internal/jwtclaims"
)

var (
	flagPassword     string
	flagConfirmToken string
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Authenticate with the crash-reporting server",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogin,
	}

	cmd.Flags().StringVar(&flagPassword, "password", "", "password (prompted when omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user from the stored token",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func newRegisterAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register-admin USERNAME",
		Short: "Create an administrator account with a confirmation token",
		Long: "Register an administrator. Without --confirmation-token, requests a new " +
			"token first; the server delivers it out of band and the command is rerun " +
			"with the token once it arrives.",
		Args: cobra.ExactArgs(1),
		RunE: runRegisterAdmin,
	}

	cmd.Flags().StringVar(&flagConfirmToken, "confirmation-token", "", "admin confirmation token")
	cmd.Flags().StringVar(&flagPassword, "password", "", "password (prompted when omitted)")

	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored token for a fresh one",
		Args:  cobra.NoArgs,
		RunE:  runRefresh,
	}
}

func runLogin(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)

	username := args[0]

	password := flagPassword
	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}

	ctx, cancel := requestContext()
	defer cancel()

	ar, err := client.Login(ctx, username, password)
	if err != nil {
		return err
	}

	statusf("Signed in as %s (%s).\n", ar.Username, strings.Join(ar.Roles, ", "))

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)

	if err := client.Logout(); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Username string   `json:"username"`
	UserID   string   `json:"user_id"`
	Roles    []string `json:"roles"`
	Admin    bool     `json:"admin"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)

	claims := client.WhoAmI()
	if claims == nil {
		return fmt.Errorf("not logged in, run 'crashctl login' first")
	}

	out := whoamiOutput{
		Username: claims.Subject,
		UserID:   claims.UserID,
		Roles:    claims.Roles,
		Admin:    jwtclaims.IsAdmin(client.Tokens().Token()),
	}

	if flagJSON {
		return printJSON(out)
	}

	fmt.Printf("User:  %s (id %s)\n", out.Username, out.UserID)
	fmt.Printf("Roles: %s\n", strings.Join(out.Roles, ", "))

	return nil
}

func runRegisterAdmin(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)

	ctx, cancel := requestContext()
	defer cancel()

	if flagConfirmToken == "" {
		msg, err := client.GenerateAdminToken(ctx)
		if err != nil {
			return err
		}

		statusf("%s\n", msg)
		statusf("Rerun with --confirmation-token once the token arrives.\n")

		return nil
	}

	if err := client.ValidateAdminToken(ctx, flagConfirmToken); err != nil {
		return fmt.Errorf("confirmation token rejected: %w", err)
	}

	password := flagPassword
	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}

	ar, err := client.RegisterAdmin(ctx, flagConfirmToken, args[0], password)
	if err != nil {
		return err
	}

	statusf("Registered admin %s (%s).\n", ar.Username, strings.Join(ar.Roles, ", "))

	return nil
}

func runRefresh(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := newAPIClient(logger)

	ctx, cancel := requestContext()
	defer cancel()

	refreshed, err := client.ForceRefresh(ctx, resolvedCfg.Session.RefreshAttempts)
	if err != nil {
		return err
	}

	if !refreshed {
		if client.Tokens().Token() == "" {
			return fmt.Errorf("not logged in, run 'crashctl login' first")
		}

		statusf("Server unavailable, keeping the current token.\n")

		return nil
	}

	statusf("Token refreshed.\n")

	return nil
}

// promptPassword reads a password from stdin. When stdin is a pipe the
// password is consumed silently, which is what scripts expect.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	fmt.Fprintln(os.Stderr)

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("empty password")
	}

	return password, nil
}

// printJSON writes indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

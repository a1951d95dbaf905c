package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/piewallah/pw-gateway/internal/auth"
)

var (
	loginPhone string
	loginOTP   string
)

// otpCmd groups one-time password commands
var otpCmd = &cobra.Command{
	Use:   "otp",
	Short: "One-time password helpers",
}

var otpSendCmd = &cobra.Command{
	Use:   "send <phone>",
	Short: "Text a one-time password to a phone number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.auth.SendOTP(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OTP sent.")
		return nil
	},
}

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a phone number and one-time password",
	Long: `Sends a one-time password to --phone and asks for it, or uses --otp when the
code was already requested with 'pwctl otp send'. The session is stored locally
and refreshed automatically before it expires.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginPhone == "" {
			return errors.New("--phone is required")
		}
		ctx := cmd.Context()
		if cli.auth.IsValid(ctx) {
			fmt.Fprintln(cmd.OutOrStdout(), "You are already logged in with a valid session.")
			return nil
		}
		otp := loginOTP
		if otp == "" {
			if err := cli.auth.SendOTP(ctx, loginPhone); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), "OTP sent. Enter code: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read otp: %w", err)
			}
			otp = strings.TrimSpace(line)
		}
		c, err := cli.auth.VerifyOTP(ctx, loginPhone, otp)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, session valid until %s\n",
			auth.Subject(c), c.ExpiresAt().Local().Format(time.RFC1123))
		return nil
	},
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and remove the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cli.auth.Credential(cmd.Context()); !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "You are not currently logged in.")
			return nil
		}
		cli.auth.Logout(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged out!")
		return nil
	},
}

// statusCmd reports the local session state without calling the network
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := map[string]any{"state": cli.auth.State(ctx)}
		if c, ok := cli.auth.Credential(ctx); ok {
			out["subject"] = auth.Subject(c)
			out["expires_at"] = c.ExpiresAt().UTC().Format(time.RFC3339)
			out["expires_in"] = time.Until(c.ExpiresAt()).Round(time.Second).String()
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	otpCmd.AddCommand(otpSendCmd)
	rootCmd.AddCommand(otpCmd, loginCmd, logoutCmd, statusCmd)
	loginCmd.Flags().StringVar(&loginPhone, "phone", "", "phone number registered with the platform")
	loginCmd.Flags().StringVar(&loginOTP, "otp", "", "code received by SMS; prompted for when empty")
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ent0n29/callrelay/internal/config"
	"github.com/ent0n29/callrelay/internal/logging"
	"github.com/ent0n29/callrelay/internal/telephony"
)

type callFunc func(ctx context.Context, to string) (telephony.CallResult, error)

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the dialer command. A nil call uses the Twilio dialer
// configured from the environment.
func newRootCmd(call callFunc) *cobra.Command {
	var (
		envFile string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dialer [number]",
		Short: "Place an outbound call answered by the AI sales agent",
		Long: `dialer asks Twilio to call a number. When the callee picks up, Twilio
fetches /voice from the relay server and the call is bridged to the agent.

The number must be E.164, e.g. +15551234567. Without an argument the number
is read from stdin.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load %s: %w", envFile, err)
				}
			} else {
				_ = godotenv.Load()
			}

			if call == nil {
				d, err := dialerFromEnv()
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Missing environment variables. Please check .env:", err)
					return err
				}
				call = d.Call
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return run(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), args, call)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env if present)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the provider")
	return cmd
}

func dialerFromEnv() (*telephony.Dialer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireTwilio(); err != nil {
		return nil, err
	}
	return telephony.NewDialer(telephony.DialerConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioPhoneNumber,
		PublicHost: cfg.PublicHost,
	}, logging.New(cfg.LogLevel, "console"))
}

func run(ctx context.Context, in io.Reader, out io.Writer, args []string, call callFunc) error {
	var number string
	if len(args) > 0 {
		number = args[0]
	} else {
		fmt.Fprint(out, "Enter phone number to call (E.164 format, e.g., +15551234567): ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read number: %w", err)
		}
		number = strings.TrimSpace(line)
	}

	to, err := telephony.NormalizeNumber(number)
	if err != nil {
		fmt.Fprintln(out, err)
		return err
	}

	fmt.Fprintf(out, "Initiating call to %s...\n", to)
	res, err := call(ctx, to)
	if err != nil {
		fmt.Fprintf(out, "Error making call: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "Call initiated! SID: %s\n", res.SID)
	return nil
}

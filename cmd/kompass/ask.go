package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	askThread    string
	askNamespace string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Process one question and print the answer",
	Long: `Runs a single question through the full engine: intent resolution,
agent retrieval, strategy selection, execution, critique, and synthesis.

If an approval gate suspends the turn, the gate question is printed and
the next 'ask' on the same thread resumes it with your reply.

Example:
  kompass ask "Vad blir vädret i Lund imorgon?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askThread, "thread", "cli", "conversation thread id")
	askCmd.Flags().StringVar(&askNamespace, "namespace", "default", "memory namespace")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	question := strings.Join(args, " ")
	t, err := a.machine.Run(ctx, askThread, askNamespace, question)
	if err != nil {
		return err
	}

	if t.AwaitingConfirmation {
		fmt.Fprintln(os.Stdout, t.PendingPreview)
		return nil
	}
	fmt.Fprintln(os.Stdout, t.FinalAnswer)
	return nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatNamespace string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Reads questions from stdin, one per line, on a fresh conversation
thread. Approval gates ask inline; answer ja or nej to continue.
Type /exit to quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatNamespace, "namespace", "default", "memory namespace")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	threadID := uuid.NewString()
	fmt.Printf("kompass %s (agenter: %d, verktyg: %d)\n", cfg.Version, len(a.registry.Agents()), a.registry.Count())
	fmt.Println("Ställ en fråga, eller /exit för att avsluta.")

	// Streamed synthesis commentary, shown dimmed while the answer is
	// still being written.
	thinking := false
	a.synth.OnThinking(func(delta string) {
		if !thinking {
			fmt.Print("\x1b[2m… ")
			thinking = true
		}
		fmt.Print(delta)
	})
	endThinking := func() {
		if thinking {
			fmt.Print("\x1b[0m\n")
			thinking = false
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			break
		}

		t, err := a.machine.Run(ctx, threadID, chatNamespace, line)
		endThinking()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(os.Stderr, "fel: %v\n", err)
			continue
		}

		if t.AwaitingConfirmation {
			fmt.Println(t.PendingPreview)
			continue
		}
		fmt.Println(t.FinalAnswer)
	}
	return scanner.Err()
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

const (
	exitCommand  = "exit"
	resetCommand = "reset"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ingest the documents and start an interactive session",
	Long: `Ingests the configured documents and then reads questions from
standard input. Type "reset" to forget the conversation and "exit"
to quit.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Ingestion.Run(ctx)
	if err != nil {
		app.Logger.ErrorContext(ctx, "Ingestion failed", "error", err)
		cmd.PrintErrln("Could not load the policy documents; answers will be unavailable.")
	} else {
		cmd.Printf("Loaded %s\n", result)
	}

	return runREPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), app.Chain, app.Logger)
}

type conversation interface {
	Answer(ctx context.Context, question string) string
	Reset()
}

// runREPL answers one question per input line until exit, end of input or
// cancellation.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, conv conversation, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprintf(out, "Ask a question about the policies. Type %q to start over, %q to quit.\n", resetCommand, exitCommand)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case exitCommand:
			return nil
		case resetCommand:
			conv.Reset()
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		answer := conv.Answer(ctx, line)
		logger.DebugContext(ctx, "Answered", "question_length", len(line), "answer_length", len(answer))
		fmt.Fprintln(out, answer)
	}
}

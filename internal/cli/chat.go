package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/knowhub/internal/daemon"
	"github.com/harun/knowhub/pkg/loop"
	"github.com/harun/knowhub/pkg/message"
	"github.com/harun/knowhub/pkg/orchestrator"
)

var (
	chatConversation string
	chatJSON         bool
	chatShowThinking bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message to the orchestrator",
	Long: `Send one user message to the orchestrator in-process and print the
answer. Streaming answers are printed as they arrive. With --conversation the
Integrator records its writes in the conversation's batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "conversation id used for batch bookkeeping")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "print the final response as JSON")
	chatCmd.Flags().BoolVar(&chatShowThinking, "thinking", false, "print extracted reasoning")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	history := []message.Message{{Role: message.RoleUser, Content: strings.Join(args, " ")}}
	resp, err := d.Orchestrator().ProcessRequest(cmd.Context(), history, chatConversation)
	if err != nil {
		return err
	}
	return printChat(cmd.OutOrStdout(), resp)
}

func printChat(out io.Writer, resp *orchestrator.Response) error {
	result := resp.Result
	if resp.Stream != nil {
		for ev := range resp.Stream.Events() {
			switch {
			case chatJSON:
			case ev.Type == loop.EventTextDelta:
				fmt.Fprint(out, ev.Text)
			case ev.Type == loop.EventToolCall && ev.ToolCall != nil:
				fmt.Fprintf(out, "\n[%s]\n", ev.ToolCall.Name)
			case ev.Type == loop.EventRetry:
				fmt.Fprintf(out, "\n[retrying on %s]\n", ev.Tier)
			}
		}
		var err error
		if result, err = resp.Stream.Wait(); err != nil {
			return err
		}
		resp.Result = result
		if !chatJSON {
			fmt.Fprintln(out)
		}
	}

	if chatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.Stream == nil {
		fmt.Fprintln(out, result.Text)
	}
	if chatShowThinking && result.Reasoning != "" {
		fmt.Fprintf(out, "\n--- thinking ---\n%s\n", result.Reasoning)
	}
	if resp.BatchID != "" {
		fmt.Fprintf(out, "batch: %s\n", resp.BatchID)
	}
	return nil
}

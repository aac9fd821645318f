package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/deepagent/internal/config"
	"github.com/nextlevelbuilder/deepagent/internal/middleware/hitl"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

func chatCmd() *cobra.Command {
	var agentID, message, threadID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a deepagent agent (REPL, or one-shot with --message)",
		RunE: func(cmd *cobra.Command, args []string) error {
			runChat(agentID, message, threadID)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent ID from the config's agents.list (default: agents.defaults)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send a single message and print the reply, instead of an interactive REPL")
	cmd.Flags().StringVar(&threadID, "thread", "", "thread ID to resume (default: a fresh UUID)")
	return cmd
}

// runChat bootstraps a runtime, resolves the thread's checkpointed state
// (or seeds a fresh one), and either answers a single --message or drops
// into an interactive REPL — grounded on cmd/agent_chat_standalone.go's
// runStandaloneMode, generalized from a channel-bot session key to a
// checkpoint-store thread ID.
func runChat(agentID, message, threadID string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
	if agentID == "" {
		agentID = cfg.ResolveDefaultAgentID()
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.store.Close()

	agent, agentCfg, err := rt.buildAgent(agentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: build agent: %v\n", err)
		os.Exit(1)
	}

	if threadID == "" {
		threadID = uuid.NewString()
	}

	turn := func(ctx context.Context, userMsg string) (string, error) {
		s, err := rt.store.Load(ctx, threadID)
		if err != nil || s == nil {
			s = state.New()
		}
		s.Messages = append(s.Messages, state.Message{Role: "user", Content: userMsg})

		final, runErr := agent.Run(ctx, s)
		if runErr != nil {
			var interrupt *hitl.Interrupt
			if asInterrupt(runErr, &interrupt) {
				if saveErr := rt.store.Save(ctx, threadID, final); saveErr != nil {
					return "", saveErr
				}
				return "", fmt.Errorf("paused for human review: %s (resume via a decisions-bearing client; this CLI doesn't implement one)", interrupt.Error())
			}
			return "", runErr
		}
		if saveErr := rt.store.Save(ctx, threadID, final); saveErr != nil {
			return "", saveErr
		}
		return lastAssistantMessage(final), nil
	}

	if message != "" {
		resp, err := turn(context.Background(), message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp)
		return
	}

	fmt.Fprintf(os.Stderr, "\ndeepagent interactive chat\n")
	fmt.Fprintf(os.Stderr, "Agent: %s | Model: %s | Thread: %s\n", agentID, agentCfg.Model, threadID)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" to start a fresh thread\n\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return
		default:
		}

		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		}
		if input == "/new" {
			threadID = uuid.NewString()
			fmt.Fprintf(os.Stderr, "New thread: %s\n\n", threadID)
			continue
		}

		resp, err := turn(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", resp)
	}
}

// asInterrupt reports whether err is a *hitl.Interrupt and, if so, stores it in out.
// kernel.Run returns an Interrupt unchanged rather than wrapping it in a
// generic error, so a plain type assertion suffices here.
func asInterrupt(err error, out **hitl.Interrupt) bool {
	interrupt, ok := err.(*hitl.Interrupt)
	if ok {
		*out = interrupt
	}
	return ok
}

func lastAssistantMessage(s *state.AgentState) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "assistant" {
			return s.Messages[i].Content
		}
	}
	return ""
}

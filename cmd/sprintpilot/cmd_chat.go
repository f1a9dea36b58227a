package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"sprintpilot/internal/fault"
	"sprintpilot/internal/orchestrator"
	"sprintpilot/internal/types"
)

var (
	chatSessionID string
	chatUserID    string
	chatPersona   string
	chatStage     string
	chatCategory  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start or resume an interactive decision sprint",
	Long: `Starts an interactive sprint session on stdin/stdout.

Without --session a new sprint is created. Inside the chat:
  /status                  show the current phase and readiness
  /rollback <phase> [why]  return to an earlier phase
  /branch <message-id> <text>  rewrite the conversation from a message
  /quit                    leave (the session persists and can be resumed)`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "resume an existing session")
	chatCmd.Flags().StringVar(&chatUserID, "user", "local", "user id for new sessions")
	chatCmd.Flags().StringVar(&chatPersona, "persona", "", "persona for framework targeting (founder, executive, investor, product_manager)")
	chatCmd.Flags().StringVar(&chatStage, "stage", "", "startup phase (ideation, seed, growth, scale-up, crisis)")
	chatCmd.Flags().StringVar(&chatCategory, "category", "", "problem category (pivot, hiring, fundraising, ...)")
}

func runChat(cmd *cobra.Command, args []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := resolveSession(s.orchestrator)
	if err != nil {
		return err
	}

	fmt.Printf("Sprint %s | phase: %s\n", sess.ID, sess.CurrentPhase)
	fmt.Println("Type your message, or /quit to leave.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			done, err := chatCommand(ctx, s, sess.ID, line)
			if err != nil {
				fmt.Println("Error:", err)
			}
			if done {
				return nil
			}
			continue
		}

		res, err := s.orchestrator.ProcessMessage(ctx, sess.ID, line)
		if err != nil {
			printFault(err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		printResult(res)
		if res.SprintDone {
			fmt.Println("\nSprint complete. The memo above is your commitment record.")
			return nil
		}
	}
}

func resolveSession(orch *orchestrator.Orchestrator) (*types.Session, error) {
	if chatSessionID != "" {
		sess, err := orch.GetSession(chatSessionID)
		if err != nil {
			return nil, err
		}
		if sess.Terminal() {
			return nil, fmt.Errorf("session %s is %s; start a new sprint", sess.ID, sess.Status)
		}
		return sess, nil
	}
	return orch.StartSession(chatUserID, types.SessionConfig{
		Persona:         chatPersona,
		StartupPhase:    chatStage,
		ProblemCategory: chatCategory,
	})
}

func chatCommand(ctx context.Context, s *stack, sessionID, line string) (done bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Println("Session saved. Resume with: sprintpilot chat --session", sessionID)
		return true, nil

	case "/status":
		sess, err := s.orchestrator.GetSession(sessionID)
		if err != nil {
			return false, err
		}
		fmt.Printf("Session %s | status: %s | phase: %s\n", sess.ID, sess.Status, sess.CurrentPhase)
		return false, nil

	case "/rollback":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /rollback <phase> [reason]")
		}
		target, ok := types.ParsePhase(fields[1])
		if !ok {
			return false, fmt.Errorf("unknown phase %q", fields[1])
		}
		reason := "user requested rollback"
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		sess, err := s.orchestrator.Rollback(sessionID, target, reason)
		if err != nil {
			return false, err
		}
		fmt.Printf("Rolled back to %s.\n", sess.CurrentPhase)
		return false, nil

	case "/branch":
		if len(fields) < 3 {
			return false, fmt.Errorf("usage: /branch <message-id> <text>")
		}
		res, err := s.orchestrator.BranchFrom(ctx, sessionID, fields[1], strings.Join(fields[2:], " "))
		if err != nil {
			return false, err
		}
		fmt.Println("Branched; the conversation continues from that point.")
		printResult(res)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func printResult(res *orchestrator.ProcessResult) {
	fmt.Println()
	fmt.Println(res.Reply.Content)
	if res.Transitioned {
		fmt.Printf("\n--- phase: %s -> %s ---\n", res.FromPhase, res.ToPhase)
	}
	if res.GenerationErr != "" && verbose {
		fmt.Printf("(generation degraded: %s)\n", res.GenerationErr)
	}
}

func printFault(err error) {
	var f *fault.Error
	if errors.As(err, &f) {
		fmt.Printf("Error [%s]: %v\n", f.Code, err)
		if f.Suggestion != "" {
			fmt.Println("Hint:", f.Suggestion)
		}
		return
	}
	fmt.Println("Error:", err)
}

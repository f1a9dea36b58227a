package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsUser string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sprint sessions",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsUser, "user", "local", "filter by user id")
}

func runSessions(cmd *cobra.Command, args []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.close()

	sessions, err := s.store.ListSessions(sessionsUser)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions. Start one with: sprintpilot chat")
		return nil
	}

	fmt.Printf("%-36s  %-10s  %-28s  %s\n", "ID", "STATUS", "PHASE", "UPDATED")
	for _, sess := range sessions {
		fmt.Printf("%-36s  %-10s  %-28s  %s\n",
			sess.ID, sess.Status, sess.CurrentPhase, sess.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BerkeleyLibrary/willa/internal/application/conversation"
)

const askPrompt = "> "

func newAskCommand(a *app) *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Chat with the archive",
		Long: `Starts an interactive conversation. Each line is a question; "quit" or
"exit" ends the session. With a question argument a single answer is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := a.svc(ctx)
			if err != nil {
				return err
			}
			if s.Conversation == nil {
				return errors.New("conversation service not configured")
			}

			if sessionID == "" {
				session, err := s.Conversation.CreateSession(ctx, "cli")
				if err != nil {
					return fmt.Errorf("failed to create session: %w", err)
				}
				sessionID = session.ID
				if !asJSON {
					cmd.PrintErrf("session %s\n", sessionID)
				}
			}

			answer := func(q string) error {
				res, err := s.Conversation.Answer(ctx, sessionID, q)
				if err != nil {
					return err
				}
				return printAnswer(cmd, res, asJSON)
			}

			if len(args) > 0 {
				return answer(strings.Join(args, " "))
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for {
				if !asJSON {
					cmd.Print(askPrompt)
				}
				if !scanner.Scan() {
					return scanner.Err()
				}
				q := strings.TrimSpace(scanner.Text())
				if q == "" {
					continue
				}
				if isQuit(q) {
					return nil
				}
				if err := answer(q); err != nil {
					if errors.Is(err, conversation.ErrEmptyQuery) {
						continue
					}
					return err
				}
			}
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print answers as JSON")
	return cmd
}

func isQuit(s string) bool {
	switch strings.ToLower(s) {
	case "quit", "exit", ":q":
		return true
	}
	return false
}

func printAnswer(cmd *cobra.Command, res *conversation.AnswerResult, asJSON bool) error {
	if asJSON {
		if res.UsedDocumentIDs == nil {
			res.UsedDocumentIDs = []string{}
		}
		b, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(b))
		return nil
	}

	cmd.Println(res.Text)
	if res.Citations != "" {
		cmd.Println()
		cmd.Println(res.Citations)
	}
	return nil
}

package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"edutalk/internal/chat"
	"edutalk/internal/models"
	"edutalk/internal/tui"
)

var errNotSignedIn = errors.New(`not signed in, run "edutalk login" first`)

func (a *app) loginCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			var err error
			if email == "" {
				if email, err = p.line("Email: "); err != nil {
					return err
				}
			}
			password, err := p.password("Password: ")
			if err != nil {
				return err
			}

			client, closeAll, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeAll()
			if err := client.Login(cmd.Context(), models.LoginCredentials{Email: email, Password: password}); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", client.Session.State().Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

func (a *app) registerCommand() *cobra.Command {
	var data models.RegisterData
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd)
			fields := []struct {
				label string
				dst   *string
			}{
				{"Username: ", &data.Username},
				{"Name: ", &data.Name},
				{"Last name: ", &data.Lastname},
				{"Email: ", &data.Email},
			}
			for _, f := range fields {
				if *f.dst != "" {
					continue
				}
				v, err := p.line(f.label)
				if err != nil {
					return err
				}
				*f.dst = v
			}
			password, err := p.password("Password: ")
			if err != nil {
				return err
			}
			data.Password = password

			client, closeAll, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeAll()
			if err := client.Register(cmd.Context(), data); err != nil {
				return fmt.Errorf("register failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created, signed in as %s\n", client.Session.State().Email)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&data.Username, "username", "", "username")
	f.StringVar(&data.Name, "name", "", "first name")
	f.StringVar(&data.Lastname, "lastname", "", "last name")
	f.StringVarP(&data.Email, "email", "e", "", "account email")
	f.StringVar(&data.Grade, "grade", models.Grades[0], "grade, one of "+strings.Join(models.Grades, ", "))
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeAll, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeAll()
			if err := client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeAll, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()
			s := client.Session.State()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %s)\n", s.Email, s.UserID)
			return nil
		},
	}
}

func (a *app) conversationsCommand() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeAll, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()
			if err := client.Refresh(cmd.Context()); err != nil {
				return err
			}

			convs := client.Conversations.Filter(filter)
			if len(convs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWITH\tLAST MESSAGE")
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, client.Conversations.DisplayName(c), client.Conversations.LastMessage(c.ID))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only show conversations whose name contains this")
	return cmd
}

func (a *app) sendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation> <text>...",
		Short: "Send one message",
		Long: `Send one message to a conversation, named by its id or by the name of
the other participant.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, closeAll, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer closeAll()
			if err := client.Refresh(ctx); err != nil {
				return err
			}
			conv, err := resolveConversation(client.Conversations, args[0])
			if err != nil {
				return err
			}
			if err := client.Select(ctx, conv.ID); err != nil {
				return err
			}
			if err := client.Send(ctx, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			// Let the Unread update go out before the client closes.
			client.Messages.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s\n", client.Conversations.DisplayName(conv))
			return nil
		},
	}
}

func (a *app) chatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			client, closeAll, err := a.open(ctx, true)
			if err != nil {
				return err
			}
			defer closeAll()
			return tui.Run(ctx, client, client.Logger())
		},
	}
}

// resolveConversation matches ref against ids first, then display names.
func resolveConversation(list *chat.Conversations, ref string) (models.Conversation, error) {
	if c, ok := list.Find(ref); ok {
		return c, nil
	}
	var found []models.Conversation
	for _, c := range list.List() {
		if strings.EqualFold(list.DisplayName(c), ref) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return models.Conversation{}, fmt.Errorf("%w: %q", chat.ErrNoConversation, ref)
	case 1:
		return found[0], nil
	}
	return models.Conversation{}, fmt.Errorf("%q matches %d conversations, use the id", ref, len(found))
}

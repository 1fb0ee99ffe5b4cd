package main

import (
	"fmt"

	"github.com/goliatone/go-print"
	accounts "github.com/lungvision/go-accounts"
	"github.com/lungvision/go-accounts/notify"
	"github.com/spf13/cobra"
)

func newTestEmailCommand(app *App) *cobra.Command {
	var (
		userEmail  string
		template   string
		renderOnly bool
	)

	cmd := &cobra.Command{
		Use:   "test-email",
		Short: "Send or render a notification email for an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			kind := accounts.NotificationKind(template)
			if !kind.IsValid() {
				return fmt.Errorf("unknown template %q (use: approval, rejection, test)", template)
			}

			if err := app.WithPersistence(ctx); err != nil {
				return err
			}

			account, err := app.repo.Accounts().GetByEmail(ctx, userEmail)
			if err != nil {
				return fmt.Errorf("user with email %s: %w", userEmail, err)
			}

			var notifier accounts.Notifier
			if !renderOnly {
				if notifier, err = app.Notifier(ctx, false); err != nil {
					return err
				}
			}

			dispatcher := accounts.NewNotificationDispatcher(notifier,
				accounts.WithDispatcherLogger(app.GetLogger("accounts:notify")),
				accounts.WithDispatcherLoginURL(app.Config().Mail.FrontendLoginURL),
			)

			n := dispatcher.BuildNotification(kind, account, accounts.SystemActor)

			if renderOnly {
				if kind != accounts.NotificationRejection {
					n.LoginURL = app.Config().Mail.FrontendLoginURL
				}
				rendered, err := notify.NewRenderer().Render(n)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, print.MaybePrettyJSON(rendered))
				return nil
			}

			if err := dispatcher.Deliver(ctx, n); err != nil {
				return fmt.Errorf("failed to send %s email to %s: %w", kind, account.Email, err)
			}

			fmt.Fprintf(out, "%s email sent to %s\n", kind, account.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&userEmail, "user-email", "", "email of the account to notify")
	cmd.Flags().StringVar(&template, "template", string(accounts.NotificationTest), "template: approval, rejection or test")
	cmd.Flags().BoolVar(&renderOnly, "render-only", false, "print the rendered email instead of sending it")
	_ = cmd.MarkFlagRequired("user-email")

	return cmd
}

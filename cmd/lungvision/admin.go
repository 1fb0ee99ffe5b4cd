package main

import (
	"fmt"

	accounts "github.com/lungvision/go-accounts"
	"github.com/spf13/cobra"
)

func newCreateAdminCommand(app *App) *cobra.Command {
	var msg accounts.CreateAdminMessage

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an approved administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := app.WithPersistence(ctx); err != nil {
				return err
			}

			handler := accounts.NewRegistrationHandler(app.repo,
				accounts.WithRegistrationLogger(app.GetLogger("accounts:register")),
				accounts.WithRegistrationHashid(app.Config().Auth.UseHashid),
			)

			result, err := handler.Execute(ctx, msg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", result.Detail, result.Account.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&msg.Email, "email", "", "administrator email")
	cmd.Flags().StringVar(&msg.FullName, "full-name", "", "administrator full name")
	cmd.Flags().StringVar(&msg.Password, "password", "", "administrator password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/model"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/settings"
	"github.com/iliyamo/lmeve2/internal/utils"
)

func newPasswdCmd() *cobra.Command {
	var (
		o    settings.DBOverrides
		role string
	)
	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Create an account or reset its password (read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != model.RoleAdmin && role != model.RoleMember {
				return fmt.Errorf("role must be %s or %s", model.RoleAdmin, model.RoleMember)
			}
			app, err := loadEnv()
			if err != nil {
				return err
			}
			defer app.closer.Close()

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				return errors.New("empty password")
			}
			hash, err := utils.HashPassword(password, app.cfg.BcryptCost)
			if err != nil {
				return err
			}

			cfg, err := app.resolver.ResolveDatabase(cmd.Context(), o)
			if err != nil {
				return err
			}
			conn, err := database.MySQL{}.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			created, err := repository.NewUserRepo(conn).UpsertAccount(cmd.Context(), model.Account{
				Username:     strings.TrimSpace(args[0]),
				PasswordHash: hash,
				Role:         role,
				IsActive:     true,
			})
			if err != nil {
				return database.AsError(database.StageQuery, err)
			}
			app.logger.Info("account saved", "username", args[0], "role", role, "created", created)
			return nil
		},
	}
	dbFlags(cmd, &o)
	cmd.Flags().StringVar(&role, "role", model.RoleAdmin, "account role (admin or member)")
	return cmd
}

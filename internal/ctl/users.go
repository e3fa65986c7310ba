package ctl

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/dalemusser/opsdesk/internal/app/system/accounts"
	"github.com/dalemusser/opsdesk/internal/app/system/apperr"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	"github.com/spf13/cobra"
)

func newUsersCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Create, disable and enable accounts",
	}
	cmd.AddCommand(newUsersCreateCmd(e), newUsersDisableCmd(e), newUsersEnableCmd(e))
	return cmd
}

func newUsersCreateCmd(e *env) *cobra.Command {
	var (
		in        accounts.NewUser
		fromStdin bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Long: `Create an account and assign its roles in one step.

Examples:
  opsdeskctl users create --email ana@example.com --name "Ana Ruiz" --password s3cret-pass --role manager
  echo s3cret-pass | opsdeskctl users create --email ana@example.com --stdin --role manager
  opsdeskctl users create --email ben@example.com --name "Ben Ode" --auth google --role employee`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromStdin {
				if in.Password != "" {
					return errors.New("--password and --stdin are mutually exclusive")
				}
				pw, err := readLine(cmd)
				if err != nil {
					return err
				}
				in.Password = pw
			}
			ctx, cancel := e.ctx(cmd)
			defer cancel()

			created, err := e.svc.Create(ctx, in)
			if err != nil {
				return describe(err)
			}
			printf(cmd.OutOrStdout(), "created %s (%s) roles=[%s]\n",
				created.User.Email, created.User.ID.Hex(), strings.Join(created.Roles, ","))
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&in.FullName, "name", "", "Full name")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password (password sign-in only)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the password from the first line of stdin")
	cmd.Flags().StringVar(&in.AuthMethod, "auth", models.AuthMethodPassword, "Sign-in method: password or google")
	cmd.Flags().StringSliceVar(&in.Roles, "role", nil, "Role to assign (repeatable)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUsersDisableCmd(e *env) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable an account and revoke its sign-in tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := e.ctx(cmd)
			defer cancel()
			n, err := e.svc.Disable(ctx, email)
			if err != nil {
				return describe(err)
			}
			printf(cmd.OutOrStdout(), "disabled %s, revoked %d token(s)\n", email, n)
			return nil
		},
	}
	emailFlag(cmd, &email)
	return cmd
}

func newUsersEnableCmd(e *env) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Re-enable a disabled account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := e.ctx(cmd)
			defer cancel()
			if err := e.svc.Enable(ctx, email); err != nil {
				return describe(err)
			}
			printf(cmd.OutOrStdout(), "enabled %s\n", email)
			return nil
		},
	}
	emailFlag(cmd, &email)
	return cmd
}

func emailFlag(cmd *cobra.Command, p *string) {
	cmd.Flags().StringVar(p, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
}

func readLine(cmd *cobra.Command) (string, error) {
	sc := bufio.NewScanner(cmd.InOrStdin())
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("read password: no input on stdin")
	}
	return strings.TrimRight(sc.Text(), "\r"), nil
}

// describe flattens validation errors into one readable line.
func describe(err error) error {
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	parts := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return errors.New(strings.Join(parts, "; "))
}

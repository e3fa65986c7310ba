package ctl

import (
	"strings"

	"github.com/spf13/cobra"
)

func newRolesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "List, seed and assign roles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List defined roles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := e.ctx(cmd)
				defer cancel()
				roles, err := e.svc.Roles(ctx)
				if err != nil {
					return err
				}
				for _, r := range roles {
					printf(cmd.OutOrStdout(), "%s\n", r.Name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Create the built-in roles if missing",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := e.ctx(cmd)
				defer cancel()
				if err := e.svc.SeedRoles(ctx); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "roles seeded\n")
				return nil
			},
		},
		newRoleChangeCmd(e, "assign", "Give an account a role", true),
		newRoleChangeCmd(e, "unassign", "Take a role from an account", false),
	)
	return cmd
}

func newRoleChangeCmd(e *env, use, short string, add bool) *cobra.Command {
	var email, role string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.changeRole(cmd, email, role, add)
		},
	}
	emailFlag(cmd, &email)
	cmd.Flags().StringVar(&role, "role", "", "Role name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func (e *env) changeRole(cmd *cobra.Command, email, role string, add bool) error {
	ctx, cancel := e.ctx(cmd)
	defer cancel()

	role = strings.ToLower(strings.TrimSpace(role))
	var err error
	if add {
		err = e.svc.Assign(ctx, email, role)
	} else {
		err = e.svc.Unassign(ctx, email, role)
	}
	if err != nil {
		return err
	}

	now, err := e.svc.RolesOf(ctx, email)
	if err != nil {
		return err
	}
	printf(cmd.OutOrStdout(), "%s roles=[%s]\n", email, strings.Join(now, ","))
	return nil
}

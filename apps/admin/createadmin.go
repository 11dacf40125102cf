package main

import (
	"context"
	"fmt"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

// createAdmin creates an admin account, or sets the password of the admin owning email.
func (cli *commandLine) createAdmin(ctx context.Context, name, email, pwd string) (user.User, error) {
	users := cli.svcs.Users
	usr, err := users.FindByEmail(ctx, email, user.RoleAdmin)
	switch {
	case err == nil:
		if err = users.SetPassword(ctx, usr, pwd); err != nil {
			return nil, err
		}
		cli.logger.Info(fmt.Sprintf("password of admin %s updated", usr.Acct().Email))
		return usr, nil
	case !core.IsNotFound(err):
		return nil, err
	}

	usr, err = users.Create(ctx, user.NewUser{
		Role:            user.RoleAdmin,
		Name:            name,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
	})
	if err != nil {
		return nil, err
	}
	cli.logger.Info(fmt.Sprintf("admin %s created", usr.Acct().Email))
	return usr, nil
}

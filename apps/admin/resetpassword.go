package main

import (
	"context"

	"github.com/trezcool/feedback360/core/user"
)

func (cli *commandLine) resetPassword(ctx context.Context, email string, role user.Role, pwd string) error {
	usr, err := cli.svcs.Users.FindByEmail(ctx, email, role)
	if err != nil {
		return err
	}
	return cli.svcs.Users.SetPassword(ctx, usr, pwd)
}

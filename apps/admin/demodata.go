package main

import (
	"context"
	"fmt"

	"github.com/trezcool/feedback360/apps/shared"
)

func (cli *commandLine) demoData(ctx context.Context) error {
	admin, err := shared.EnsureAdmin(ctx, cli.svcs.Users, cli.conf, cli.logger)
	if err != nil {
		return err
	}
	sum, err := shared.SeedDemo(ctx, cli.svcs, admin)
	if err != nil {
		return err
	}
	cli.logger.Info(fmt.Sprintf(
		"demo data seeded: class %s, %d students, activity %q; password of demo accounts: %s",
		sum.Class.Label(), len(sum.Students), sum.Activity.Title, shared.DemoPassword,
	))
	return nil
}

package main

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/trezcool/feedback360/core"
)

type waiter interface {
	Wait()
}

// testEmail sends a plain test message to addr, or a password reset link to the account of addr.
func (cli *commandLine) testEmail(ctx context.Context, addr string, reset bool) error {
	if reset {
		usr, err := cli.svcs.Users.FindByEmail(ctx, addr)
		if err != nil {
			return err
		}
		if err = cli.svcs.Users.SendPasswordReset(ctx, usr); err != nil {
			return err
		}
	} else {
		cli.mailSvc.SendMessages(&core.EmailMessage{
			To:      []mail.Address{{Address: addr}},
			Subject: "E-mail de teste",
			BodyStr: fmt.Sprintf("E-mail de teste enviado em %s.", time.Now().Format(time.RFC1123Z)),
		})
	}
	if w, ok := cli.mailSvc.(waiter); ok {
		w.Wait()
	}
	return nil
}

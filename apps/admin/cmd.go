package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/mail"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/feedback360/apps/shared"
	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db      *sql.DB
	conf    *core.Config
	logger  core.Logger
	mailSvc core.EmailService
	svcs    shared.Services
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS]                    - run a goose command: up, down, status, version...")
	fmt.Println("  createadmin -name NAME -email EMAIL       - create an admin, or set the password of an existing one")
	fmt.Println("  resetpassword -email EMAIL [-role ROLE]   - set the password of an account")
	fmt.Println("  testemail -to EMAIL [-reset]              - send a test email, or a password reset link")
	fmt.Println("  demodata                                  - seed demo courses, accounts and activities")
}

// readPassword prompts for a password. An empty password prints usage.
func readPassword(fs *flag.FlagSet) (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	createAdminCmd := flag.NewFlagSet("createadmin", flag.ContinueOnError)
	createAdminName := createAdminCmd.String("name", "", "The admin's name.")
	createAdminEmail := createAdminCmd.String("email", "", "The admin's email. The password will be prompted next.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The account's email. The password will be prompted next.")
	resetPasswordRole := resetPasswordCmd.String("role", "", "The account's role, when the email is used by several roles.")

	testEmailCmd := flag.NewFlagSet("testemail", flag.ContinueOnError)
	testEmailTo := testEmailCmd.String("to", "", "The recipient.")
	testEmailReset := testEmailCmd.Bool("reset", false, "Send a password reset link to the account of -to instead.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "createadmin":
		if err := createAdminCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *createAdminName == "" || *createAdminEmail == "" {
			createAdminCmd.Usage()
			return errHelp
		}
		pwd, err := readPassword(createAdminCmd)
		if err != nil {
			return err
		}
		_, err = cli.createAdmin(ctx, *createAdminName, *createAdminEmail, pwd)
		return err

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		var role user.Role
		if *resetPasswordRole != "" {
			r, err := user.ParseRole(*resetPasswordRole)
			if err != nil {
				return err
			}
			role = r
		}
		pwd, err := readPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(ctx, *resetPasswordEmail, role, pwd)

	case "testemail":
		if err := testEmailCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *testEmailTo == "" {
			testEmailCmd.Usage()
			return errHelp
		}
		if _, err := mail.ParseAddress(*testEmailTo); err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "to", Error: "invalid email"})
		}
		return cli.testEmail(ctx, *testEmailTo, *testEmailReset)

	case "demodata":
		return cli.demoData(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}

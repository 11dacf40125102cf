package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/dig"

	webapp "github.com/trezcool/feedback360/apps/web/echo"
	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
	emailsvc "github.com/trezcool/feedback360/services/email"
	logsvc "github.com/trezcool/feedback360/services/logger"
	"github.com/trezcool/feedback360/storage/database"
	inmemdb "github.com/trezcool/feedback360/storage/database/inmem"
	sqlxrepos "github.com/trezcool/feedback360/storage/database/sqlx"
)

const dbSetupTimeout = 30 * time.Second

type (
	// Options selects the storage backend.
	Options struct {
		InMemory bool
	}

	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// CloseFunc releases the storage backend.
	CloseFunc func() error

	Repositories struct {
		dig.Out

		Users         user.Repository
		Guard         user.DeletionGuard
		Catalog       catalog.Repository
		Evaluations   evaluation.Repository
		Notifications notification.Repository
		Close         CloseFunc
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "WEB : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newSQLRepositories(conf *core.Config, loggerParam DBLoggerParam) Repositories {
	ctx, cancel := context.WithTimeout(context.Background(), dbSetupTimeout)
	defer cancel()

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = database.Migrate(db.DB); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}

	return Repositories{
		Users:         sqlxrepos.NewUserRepository(db),
		Guard:         sqlxrepos.NewDeletionGuard(db),
		Catalog:       sqlxrepos.NewCatalogRepository(db),
		Evaluations:   sqlxrepos.NewEvaluationRepository(db),
		Notifications: sqlxrepos.NewNotificationRepository(db),
		Close:         db.Close,
	}
}

func newInMemRepositories() Repositories {
	db := inmemdb.Open()
	return Repositories{
		Users:         inmemdb.NewUserRepository(db),
		Guard:         inmemdb.NewDeletionGuard(db),
		Catalog:       inmemdb.NewCatalogRepository(db),
		Evaluations:   inmemdb.NewEvaluationRepository(db),
		Notifications: inmemdb.NewNotificationRepository(db),
		Close:         func() error { return nil },
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newCatalogService(repo catalog.Repository, users *user.Service, v *core.Validator) *catalog.Service {
	return catalog.NewService(repo, users, v)
}

func newEvaluationService(
	repo evaluation.Repository,
	cat *catalog.Service,
	users *user.Service,
	notifs *notification.Service,
	v *core.Validator,
	logger core.Logger,
) *evaluation.Service {
	return evaluation.NewService(repo, cat, users, notifs, v, logger)
}

func newWebOptions(
	conf *core.Config,
	logger core.Logger,
	users *user.Service,
	cat *catalog.Service,
	evals *evaluation.Service,
	notifs *notification.Service,
) *webapp.Options {
	return &webapp.Options{
		Conf:          conf,
		Logger:        logger,
		Users:         users,
		Catalog:       cat,
		Evaluations:   evals,
		Notifications: notifs,
	}
}

// New returns a new dependency injection dig.Container
func New(opts Options) *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	if opts.InMemory {
		must(c.Provide(newInMemRepositories))
	} else {
		must(c.Provide(newSQLRepositories))
	}
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewValidator))
	must(c.Provide(user.NewService))
	must(c.Provide(newCatalogService))
	must(c.Provide(notification.NewService))
	must(c.Provide(newEvaluationService))
	must(c.Provide(newWebOptions))
	must(c.Provide(webapp.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}

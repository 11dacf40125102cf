package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/trezcool/feedback360/apps/shared"
	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
	appfs "github.com/trezcool/feedback360/fs"
	emailsvc "github.com/trezcool/feedback360/services/email"
	logsvc "github.com/trezcool/feedback360/services/logger"
	"github.com/trezcool/feedback360/storage/database"
	sqlxrepos "github.com/trezcool/feedback360/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	stdLogger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(false)

	if err := core.ParseEmailTemplates(appfs.FS, "assets/templates/email", conf.Debug); err != nil {
		stdLogger.Fatal(err)
	}

	// set up DB
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.Open(ctx, conf)
	cancel()
	if err != nil {
		stdLogger.Fatal(err)
	}

	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	v := core.NewValidator()
	users := user.NewService(sqlxrepos.NewUserRepository(db), sqlxrepos.NewDeletionGuard(db), mailSvc, v, conf)
	cat := catalog.NewService(sqlxrepos.NewCatalogRepository(db), users, v)
	notifs := notification.NewService(sqlxrepos.NewNotificationRepository(db), v)
	evals := evaluation.NewService(sqlxrepos.NewEvaluationRepository(db), cat, users, notifs, v, logger)

	// start CLI
	cli := commandLine{
		db:      db.DB,
		conf:    conf,
		logger:  logger,
		mailSvc: mailSvc,
		svcs:    shared.Services{Users: users, Catalog: cat, Evaluations: evals},
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			stdLogger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

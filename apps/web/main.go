package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/dig"

	"github.com/trezcool/feedback360/apps/shared"
	dig_container "github.com/trezcool/feedback360/apps/web/di/dig"
	webapp "github.com/trezcool/feedback360/apps/web/echo"
	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/user"
	appfs "github.com/trezcool/feedback360/fs"
)

const emailTemplatesDir = "assets/templates/email"

type appParams struct {
	dig.In

	Conf        *core.Config
	Logger      core.Logger
	Close       dig_container.CloseFunc
	Users       *user.Service
	Catalog     *catalog.Service
	Evaluations *evaluation.Service
	Server      *webapp.Server
}

func main() {
	inMem := flag.Bool("inmem", false, "keep data in memory instead of PostgreSQL")
	demo := flag.Bool("demo", false, "seed demo data on start (implies -inmem)")
	flag.Parse()

	c := dig_container.New(dig_container.Options{InMemory: *inMem || *demo})
	must(c.Invoke(func(p appParams) { run(p, *demo) }))
}

func run(p appParams, demo bool) {
	conf, logger, server := p.Conf, p.Logger, p.Server

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

	if err := core.ParseEmailTemplates(appfs.FS, emailTemplatesDir, conf.Debug); err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}

	defer func() {
		if err := p.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()
	defer logger.Info("Application stopped")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	admin, err := shared.EnsureAdmin(ctx, p.Users, conf, logger)
	if err != nil {
		cancel()
		logger.Fatal(fmt.Sprintf("ensuring admin: %v", err), err)
	}
	if demo {
		svcs := shared.Services{Users: p.Users, Catalog: p.Catalog, Evaluations: p.Evaluations}
		if _, err = shared.SeedDemo(ctx, svcs, admin); err != nil {
			logger.Error(fmt.Sprintf("seeding demo data: %v", err), err)
		} else {
			logger.Info(fmt.Sprintf("demo data seeded, password of demo accounts: %s", shared.DemoPassword))
		}
	}
	cancel()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Web Service

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

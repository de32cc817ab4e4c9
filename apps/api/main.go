package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/dig"

	dig_container "github.com/emsu/emsu/apps/api/di/dig"
	echoapi "github.com/emsu/emsu/apps/api/echo"
	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/announcement"
	"github.com/emsu/emsu/core/user"
	appfs "github.com/emsu/emsu/fs"
	brokersvc "github.com/emsu/emsu/services/broker"
)

type appDeps struct {
	dig.In

	Conf      *core.Config
	Logger    core.Logger
	DBLogger  core.Logger `name:"dbLogger"`
	DB        *sqlx.DB
	Broker    *brokersvc.RedisBroker
	Scheduler *announcement.Scheduler
	Server    *echoapi.Server
}

func main() {
	c := dig_container.New()
	must(c.Invoke(run))
}

func run(deps appDeps) {
	conf, logger, server := deps.Conf, deps.Logger, deps.Server

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : %s", conf))

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, logger)
	user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswords, logger)

	if deps.DB != nil {
		defer func() {
			if err := deps.DB.Close(); err != nil {
				deps.DBLogger.Error(fmt.Sprintf("Failed to close: %v", err), err)
			}
		}()
	}
	defer logger.Info("Application stopped")

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
	// Start Group Fan-out & Scheduler

	if deps.Broker != nil {
		if err := deps.Broker.Start(context.Background()); err != nil {
			logger.Fatal(fmt.Sprintf("starting redis broker: %v", err), err)
		}
		defer func() {
			if err := deps.Broker.Close(); err != nil {
				logger.Error(fmt.Sprintf("closing redis broker: %v", err), err)
			}
		}()
	}

	if conf.Scheduler.Enabled {
		if err := deps.Scheduler.Start(); err != nil {
			logger.Fatal(fmt.Sprintf("starting scheduler: %v", err), err)
		}
	}

	// =========================================================================
	// Start API Service

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if conf.Scheduler.Enabled {
			deps.Scheduler.Stop(ctx)
		}

		// asking listener to shut down and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/user"
	appfs "github.com/emsu/emsu/fs"
	logsvc "github.com/emsu/emsu/services/logger"
	"github.com/emsu/emsu/storage/database"
	inmemdb "github.com/emsu/emsu/storage/database/inmem"
	sqlxrepos "github.com/emsu/emsu/storage/database/sqlx"
)

var logger *logrus.Entry

func main() {
	conf := core.NewConfig()
	logger = logsvc.NewStdLogger(conf).WithField("app", "admin")

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswords, logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf))

	cli := commandLine{conf: conf, out: os.Stdout}
	if conf.Database.Engine == "memory" {
		cli.usrSvc = user.NewService(inmemdb.NewUserRepository(inmemdb.Open()), validate, translator)
	} else {
		db, err := database.Open(conf)
		errAndDie(err)
		defer func() { _ = db.Close() }()
		errAndDie(db.Ping())

		cli.db = db.DB
		cli.usrSvc = user.NewService(sqlxrepos.NewUserRepository(db), validate, translator)
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.WithError(err).Error("command failed")
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}


package main

import (
	"context"
	"errors"

	"github.com/pressly/goose/v3"

	appfs "github.com/emsu/emsu/fs"
	"github.com/emsu/emsu/storage/database"
)

var (
	gooseRunFunc = goose.RunContext // mockable

	errNoDatabase = errors.New("migrations require the postgres engine")
)

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	goose.SetBaseFS(database.MigrationsFS())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(context.Background(), args[0], cli.db, appfs.MigrationsDir, arguments...)
}

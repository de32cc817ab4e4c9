package main

import (
	"errors"
	"fmt"

	echoapi "github.com/emsu/emsu/apps/api/echo"
)

var errInactiveUser = errors.New("user is deactivated")

// printToken prints a signed API token, usable as a Bearer header or as `?token=` on websocket URLs.
func (cli *commandLine) printToken(email string) error {
	usr, err := cli.activeUser(email)
	if err != nil {
		return err
	}
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(usr, cli.conf), cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}

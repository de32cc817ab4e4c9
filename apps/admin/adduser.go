package main

import (
	"context"
	"fmt"

	"github.com/emsu/emsu/core/user"
)

// addUser creates an active user; the password policy applies.
func (cli *commandLine) addUser(nu user.NewUser) error {
	usr, err := cli.usrSvc.Create(context.Background(), nu)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %s %s (%s)\n", usr.Role, usr.Email, usr.ID)
	return nil
}

package main

import (
	"context"

	"github.com/emsu/emsu/core/user"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	_, err = cli.usrSvc.Save(ctx, usr)
	return err
}

// activeUser returns the user registered under email, if it may sign in.
func (cli *commandLine) activeUser(email string) (user.User, error) {
	usr, err := cli.usrSvc.GetByEmail(context.Background(), email)
	if err != nil {
		return user.User{}, err
	}
	if !usr.IsActive {
		return user.User{}, errInactiveUser
	}
	return usr, nil
}

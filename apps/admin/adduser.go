package main

import (
	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/user"
)

// addUser updates or creates a user. Admin-created accounts are active and
// pre-verified.
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool) error {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(uname)
	if err == user.ErrNotFound {
		usr, err = cli.usrRepo.GetUserByUsernameOrEmail(email)
	}
	if err != nil && err != user.ErrNotFound {
		return err
	}
	created := usr.ID == ""

	if name != "" {
		usr.Name = name
	}
	usr.Username = uname
	usr.Email = email
	usr.IsActive = true
	usr.IsVerified = true
	if isAdmin {
		usr.Roles = user.AllRoles
	} else if created {
		usr.Roles = user.StudentRoles
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}

	if created {
		_, err = cli.usrRepo.CreateUser(usr)
	} else {
		isActive := true
		_, err = cli.usrRepo.UpdateUser(usr, &isActive)
	}
	return err
}

package appfs

import "embed"

// FS holds the assets shipped inside the binaries.
//
//go:embed migrations/*.sql templates/email/* passwords/*
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "templates/email"
	CommonPasswords   = "passwords/common-passwords.txt.gz"
)

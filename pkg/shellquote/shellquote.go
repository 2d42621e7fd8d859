// Package shellquote renders command lines for logs so they can be pasted into a POSIX shell.
package shellquote

import (
	"net/url"
	"strings"
)

// redacted replaces secrets in rendered command lines.
const redacted = "xxxxx"

// secretFlags take a value that may carry credentials.
var secretFlags = map[string]struct{}{
	"--proxy":    {},
	"--password": {},
	"--username": {},
	"--cookies":  {},
}

// Quote returns s unchanged when it is shell-safe and single-quoted otherwise.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if isSafe(s) {
		return s
	}

	// inside single quotes only ' needs care: close, escape, reopen
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("_@%+=:,./-", r):
		default:
			return false
		}
	}

	return true
}

// Join renders bin and args as one command line.
// Values of credential flags are masked: proxy URLs keep everything but the password.
func Join(bin string, args []string) string {
	var cmdLine strings.Builder

	cmdLine.WriteString(Quote(bin))

	secret := ""

	for _, arg := range args {
		cmdLine.WriteByte(' ')

		if secret != "" {
			cmdLine.WriteString(Quote(mask(secret, arg)))

			secret = ""

			continue
		}

		if _, ok := secretFlags[arg]; ok {
			secret = arg
		}

		cmdLine.WriteString(Quote(arg))
	}

	return cmdLine.String()
}

func mask(flag, value string) string {
	if flag != "--proxy" {
		return redacted
	}

	u, err := url.Parse(value)
	if err != nil || u.User == nil {
		return value
	}

	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}

	return u.String()
}

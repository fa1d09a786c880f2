package mail

import (
	"errors"
	"net/smtp"
)

// loginAuth implements the SMTP LOGIN authentication mechanism, which
// net/smtp doesn't provide directly (only PLAIN and CRAM-MD5). Required
// by relays — Office 365 among them — that only speak LOGIN.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch string(fromServer) {
	case "Username:":
		return []byte(a.username), nil
	case "Password:":
		return []byte(a.password), nil
	default:
		return nil, errors.New("mail: unexpected LOGIN auth challenge: " + string(fromServer))
	}
}

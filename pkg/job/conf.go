package job

import (
	"fmt"
	"net/url"

	"github.com/go-ini/ini"
)

const (
	defaultHost     = "localhost"
	defaultPort     = 5432
	defaultDatabase = "postgres"
	defaultUsername = "postgres"
	defaultPassword = ""
	defaultSSLMode  = "prefer"
)

// confParams abstracts parameters loaded from ini file. Will provide defaults
// when receiver is nil or parameter is not defined.
type confParams struct {
	host, database, user, sslMode string
	password                      *string
	port                          int
}

func (c *confParams) GetHost() string {
	if c == nil || c.host == "" {
		return defaultHost
	}

	return c.host
}

func (c *confParams) GetDatabase() string {
	if c == nil || c.database == "" {
		return defaultDatabase
	}

	return c.database
}

func (c *confParams) GetUser() string {
	if c == nil || c.user == "" {
		return defaultUsername
	}

	return c.user
}

func (c *confParams) GetPassword() string {
	if c == nil || c.password == nil {
		return defaultPassword
	}

	return *c.password
}

func (c *confParams) GetSSLMode() string {
	if c == nil || c.sslMode == "" {
		return defaultSSLMode
	}

	return c.sslMode
}

func (c *confParams) GetPort() int {
	if c == nil || c.port == 0 {
		return defaultPort
	}

	return c.port
}

// DSN assembles a postgres connection URL from the loaded parameters.
func (c *confParams) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.GetUser(), c.GetPassword()),
		Host:     fmt.Sprintf("%s:%d", c.GetHost(), c.GetPort()),
		Path:     "/" + c.GetDatabase(),
		RawQuery: "sslmode=" + url.QueryEscape(c.GetSSLMode()),
	}

	return u.String()
}

// newConfParams attempts to load a confParams struct from a path to an ini file.
func newConfParams(confFilePath string) (*confParams, error) {
	confParams := &confParams{}

	if confFilePath == "" {
		return confParams, nil
	}

	creds, err := ini.Load(confFilePath)
	if err != nil {
		return nil, err
	}

	if creds.HasSection("client") {
		clientSection := creds.Section("client")
		confParams.host = clientSection.Key("host").String()
		confParams.database = clientSection.Key("database").String()
		confParams.user = clientSection.Key("user").String()
		confParams.sslMode = clientSection.Key("ssl-mode").String()
		confParams.port = clientSection.Key("port").MustInt()

		if clientSection.HasKey("password") {
			pw := clientSection.Key("password").String()
			confParams.password = &pw
		}
	}

	return confParams, nil
}

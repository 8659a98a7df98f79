// Package cloudsql builds PostgreSQL connection strings for Cloud SQL
// instances mounted as Unix sockets, as on Cloud Run.
package cloudsql

import (
	"fmt"
	"net/url"
	"strings"
)

// SocketDir is where Cloud Run mounts Cloud SQL instances.
const SocketDir = "/cloudsql"

// Instance identifies a Cloud SQL database and its credentials.
type Instance struct {
	ConnectionName string // project:region:instance
	User           string
	Password       string // Empty for IAM authentication
	Database       string
}

// Configured reports whether a connection name was given.
func (i Instance) Configured() bool {
	return i.ConnectionName != ""
}

// SocketPath returns the Unix socket directory of the instance.
func (i Instance) SocketPath() string {
	return SocketDir + "/" + i.ConnectionName
}

// DSN returns a lib/pq keyword connection string for the instance socket.
func (i Instance) DSN() (string, error) {
	if !i.Configured() {
		return "", fmt.Errorf("cloud sql connection name is not set")
	}
	if i.User == "" || i.Database == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	parts := []string{
		"host=" + quote(i.SocketPath()),
		"user=" + quote(i.User),
	}
	if i.Password != "" {
		parts = append(parts, "password="+quote(i.Password))
	}
	parts = append(parts, "dbname="+quote(i.Database), "sslmode=disable")
	return strings.Join(parts, " "), nil
}

// quote escapes a keyword value when it contains spaces or quotes.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Redact hides the password of a postgres URL or keyword DSN for logging.
func Redact(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "invalid-url"
		}
		return u.Redacted()
	}

	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}

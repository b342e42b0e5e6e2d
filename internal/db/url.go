package db

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Descriptor holds the components of a PostgreSQL connection URL.
type Descriptor struct {
	Scheme   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// recognized relational schemes for the deployment database.
var validSchemes = map[string]bool{
	"postgres":   true,
	"postgresql": true,
}

// ParseURL parses a postgres:// connection URL into a Descriptor.
// The port defaults to 5432 when absent.
func ParseURL(rawURL string) (*Descriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	d := &Descriptor{
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Port:     5432,
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  u.Query().Get("sslmode"),
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parse database port %q: %w", p, err)
		}
		d.Port = port
	}

	if u.User != nil {
		d.User = u.User.Username()
		d.Password, _ = u.User.Password()
	}

	return d, nil
}

// URL reserializes the descriptor into a connection URL. Parsing the result
// yields an equivalent descriptor.
func (d *Descriptor) URL() string {
	u := url.URL{
		Scheme: d.Scheme,
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	if d.User != "" || d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	if d.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", d.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// AdminURL returns a connection URL for the given maintenance database,
// keeping every other component of the descriptor.
func (d *Descriptor) AdminURL(database string) string {
	admin := *d
	admin.Database = database
	return admin.URL()
}

// Validate reports every missing or unrecognized component. An empty result
// means the descriptor is usable for a production deployment.
func (d *Descriptor) Validate() []string {
	var issues []string

	if !validSchemes[d.Scheme] {
		issues = append(issues, fmt.Sprintf("scheme should be 'postgresql' or 'postgres', got %q", d.Scheme))
	}
	if d.Host == "" {
		issues = append(issues, "hostname is missing")
	}
	if d.User == "" {
		issues = append(issues, "username is missing")
	}
	if d.Password == "" {
		issues = append(issues, "password is missing")
	}
	if d.Database == "" {
		issues = append(issues, "database name is missing")
	}

	return issues
}

// IsLoopback reports whether the descriptor points at a local address.
func (d *Descriptor) IsLoopback() bool {
	return d.Host == "localhost" || d.Host == "127.0.0.1" || d.Host == "::1"
}

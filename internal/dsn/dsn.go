// Package dsn parses and formats the KeyStore connection string grammar:
//
//	[scheme://][user[:pass]@]host[:port][/db][?k=v&...]
//
// This grammar is deliberately stricter than redis.ParseURL: it accepts a
// bare host[:port][/db] with no scheme, and rejects a handful of malformed
// shapes (unknown scheme, a password marker with no password, a missing
// host on an authenticated form) that go-redis's own parser lets through
// or rejects differently.
package dsn

import (
	"strconv"
	"strings"

	jerrors "github.com/muaviaUsmani/jobyard/internal/errors"
)

const (
	DefaultPort = 6379
)

// DSN is the parsed form of a KeyStore connection string.
type DSN struct {
	Scheme  string // "redis" or "tcp"; defaults to "redis" when no scheme given
	HasUser bool
	User    string
	HasPass bool
	Pass    string
	Host    string
	Port    int
	HasDB   bool
	DB      int
	Opts    map[string]string
}

// Parse parses raw according to the grammar above. Any deviation is
// reported as a *errors.ConfigError.
func Parse(raw string) (*DSN, error) {
	d := &DSN{Scheme: "redis", Port: DefaultPort, Opts: map[string]string{}}

	rest := raw
	if idx := strings.Index(raw, "://"); idx >= 0 {
		scheme := raw[:idx]
		if scheme != "redis" && scheme != "tcp" {
			return nil, &jerrors.ConfigError{Field: "scheme", Reason: "must be \"redis\" or \"tcp\", got " + scheme}
		}
		d.Scheme = scheme
		rest = raw[idx+3:]
	}

	authority := rest
	var query string
	if qi := strings.Index(authority, "?"); qi >= 0 {
		query = authority[qi+1:]
		authority = authority[:qi]
	}

	var userinfo string
	hasAuth := false
	if ai := strings.LastIndex(authority, "@"); ai >= 0 {
		userinfo = authority[:ai]
		authority = authority[ai+1:]
		hasAuth = true
	}

	if hasAuth {
		if userinfo == "" {
			return nil, &jerrors.ConfigError{Field: "user", Reason: "empty userinfo before '@'"}
		}
		if ci := strings.Index(userinfo, ":"); ci >= 0 {
			d.HasUser = true
			d.User = userinfo[:ci]
			pass := userinfo[ci+1:]
			if pass == "" {
				return nil, &jerrors.ConfigError{Field: "pass", Reason: "password marker present with no password"}
			}
			d.HasPass = true
			d.Pass = pass
		} else {
			d.HasUser = true
			d.User = userinfo
		}
	}

	var hostport, dbPart string
	if si := strings.Index(authority, "/"); si >= 0 {
		hostport = authority[:si]
		dbPart = authority[si+1:]
	} else {
		hostport = authority
	}

	if hostport == "" {
		return nil, &jerrors.ConfigError{Field: "host", Reason: "missing host"}
	}

	host := hostport
	if ci := strings.LastIndex(hostport, ":"); ci >= 0 {
		host = hostport[:ci]
		portStr := hostport[ci+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, &jerrors.ConfigError{Field: "port", Reason: "invalid port " + portStr}
		}
		d.Port = port
	}
	if host == "" {
		return nil, &jerrors.ConfigError{Field: "host", Reason: "missing host"}
	}
	d.Host = host

	if dbPart != "" {
		db, err := strconv.Atoi(dbPart)
		if err != nil || db < 0 {
			return nil, &jerrors.ConfigError{Field: "db", Reason: "invalid db " + dbPart}
		}
		d.HasDB = true
		d.DB = db
	}

	if query != "" {
		for _, kv := range strings.Split(query, "&") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				d.Opts[parts[0]] = parts[1]
			} else {
				d.Opts[parts[0]] = ""
			}
		}
	}

	return d, nil
}

// Format renders d back into the DSN grammar Parse accepts, such that
// Parse(Format(d)) reproduces d's fields.
func Format(d *DSN) string {
	var b strings.Builder
	scheme := d.Scheme
	if scheme == "" {
		scheme = "redis"
	}
	b.WriteString(scheme)
	b.WriteString("://")

	if d.HasUser {
		b.WriteString(d.User)
		if d.HasPass {
			b.WriteString(":")
			b.WriteString(d.Pass)
		}
		b.WriteString("@")
	}

	b.WriteString(d.Host)
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	b.WriteString(":")
	b.WriteString(strconv.Itoa(port))

	if d.HasDB {
		b.WriteString("/")
		b.WriteString(strconv.Itoa(d.DB))
	}

	if len(d.Opts) > 0 {
		b.WriteString("?")
		first := true
		for k, v := range d.Opts {
			if !first {
				b.WriteString("&")
			}
			first = false
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(v)
		}
	}

	return b.String()
}

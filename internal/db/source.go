package db

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap/zapcore"
)

// Engine identifies a database backend.
type Engine string

const (
	Postgres  Engine = "postgres"
	MySQL     Engine = "mysql"
	SQLite    Engine = "sqlite"
	SQLServer Engine = "sqlserver"
)

// ParseEngine maps a URL scheme or user supplied type to an Engine. Driver
// suffixes such as "+psycopg2" are ignored.
func ParseEngine(s string) (Engine, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(name, '+'); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "postgres", "postgresql", "pg", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	}
	return "", fmt.Errorf("unsupported database type %q", s)
}

func (e Engine) defaultPort() int {
	switch e {
	case Postgres:
		return 5432
	case MySQL:
		return 3306
	case SQLServer:
		return 1433
	}
	return 0
}

// MaskedPassword replaces credentials in every externally visible form of a
// DataSource.
const MaskedPassword = "***"

// MemoryPath is the SQLite path of a private in-memory database.
const MemoryPath = ":memory:"

// DataSource describes where to connect. It is kept structured until the
// moment a driver opens a connection; only Masked and Details are meant to
// leave the process.
type DataSource struct {
	Engine   Engine
	User     string
	Password string
	Host     string
	Port     int
	// Database is the database name, or the file path for SQLite.
	Database string
	Params   map[string]string

	scheme string
}

// ParseURL parses a connection URL. SQLAlchemy style URLs are accepted:
// "postgresql+psycopg2://u:p@h:5432/db", "mysql+pymysql://u:p@h/db",
// "sqlite:///relative.db", "sqlite:////abs/path.db", and
// "sqlserver://u:p@h:1433?database=db".
func ParseURL(raw string) (DataSource, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DataSource{}, fmt.Errorf("database url is empty")
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return DataSource{}, fmt.Errorf("database url has no scheme")
	}
	engine, err := ParseEngine(scheme)
	if err != nil {
		return DataSource{}, err
	}
	if engine == SQLite {
		return parseSQLiteURL(scheme, rest)
	}

	u, err := url.Parse(engine.String() + "://" + rest)
	if err != nil {
		// url.Parse errors echo the input, which may hold a password.
		return DataSource{}, fmt.Errorf("malformed %s url", engine)
	}
	ds := DataSource{
		Engine:   engine,
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
		scheme:   scheme,
	}
	if u.User != nil {
		ds.User = u.User.Username()
		ds.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		ds.Port, err = strconv.Atoi(p)
		if err != nil {
			return DataSource{}, fmt.Errorf("invalid port %q", p)
		}
	}
	for k, v := range u.Query() {
		if len(v) == 0 {
			continue
		}
		if engine == SQLServer && strings.EqualFold(k, "database") && ds.Database == "" {
			ds.Database = v[0]
			continue
		}
		if ds.Params == nil {
			ds.Params = make(map[string]string)
		}
		ds.Params[k] = v[0]
	}
	if ds.Host == "" {
		return DataSource{}, fmt.Errorf("%s url has no host", engine)
	}
	return ds, nil
}

func parseSQLiteURL(scheme, rest string) (DataSource, error) {
	path, query, _ := strings.Cut(rest, "?")
	// "sqlite:///x" is relative, "sqlite:////x" absolute, "sqlite://" in memory.
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		path = MemoryPath
	}
	ds := DataSource{Engine: SQLite, Database: path, scheme: scheme}
	if query != "" {
		vals, err := url.ParseQuery(query)
		if err != nil {
			return DataSource{}, fmt.Errorf("malformed sqlite url query")
		}
		ds.Params = make(map[string]string, len(vals))
		for k, v := range vals {
			if len(v) > 0 {
				ds.Params[k] = v[0]
			}
		}
	}
	return ds, nil
}

// ConnectParams is the connect-by-parameters input. A non-empty
// ConnectionString wins over the individual fields.
type ConnectParams struct {
	ConnectionString string `json:"connection_string,omitempty"`
	DBType           string `json:"db_type,omitempty"`
	Host             string `json:"host,omitempty"`
	Port             int    `json:"port,omitempty"`
	Database         string `json:"database,omitempty"`
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
	SSLMode          string `json:"sslmode,omitempty"`
}

// FromParams builds a DataSource from p. SQLite names without a .sqlite or
// .db suffix resolve to "<name>.sqlite" inside uploadDir.
func FromParams(p ConnectParams, uploadDir string) (DataSource, error) {
	if p.ConnectionString != "" {
		return ParseURL(p.ConnectionString)
	}
	typ := p.DBType
	if typ == "" {
		typ = string(Postgres)
	}
	engine, err := ParseEngine(typ)
	if err != nil {
		return DataSource{}, err
	}

	if engine == SQLite {
		if p.Database == "" {
			return DataSource{}, fmt.Errorf("database must be a sqlite file path or name")
		}
		path := p.Database
		switch strings.ToLower(filepath.Ext(path)) {
		case ".sqlite", ".sqlite3", ".db":
		default:
			path = filepath.Join(uploadDir, p.Database+".sqlite")
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return DataSource{}, fmt.Errorf("invalid sqlite path: %w", err)
		}
		return DataSource{Engine: SQLite, Database: abs}, nil
	}

	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = engine.defaultPort()
	}
	if p.Database == "" || p.Username == "" || p.Password == "" {
		return DataSource{}, fmt.Errorf("host, port, database, username, password are required")
	}
	ds := DataSource{
		Engine:   engine,
		User:     p.Username,
		Password: p.Password,
		Host:     host,
		Port:     port,
		Database: p.Database,
	}
	if p.SSLMode != "" {
		switch engine {
		case Postgres:
			ds.Params = map[string]string{"sslmode": p.SSLMode}
		case SQLServer:
			ds.Params = map[string]string{"encrypt": p.SSLMode}
		case MySQL:
			ds.Params = map[string]string{"tls": p.SSLMode}
		}
	}
	return ds, nil
}

// IsZero reports whether no source is configured.
func (d DataSource) IsZero() bool { return d.Engine == "" }

func (e Engine) String() string { return string(e) }

func (d DataSource) addr() string {
	port := d.Port
	if port == 0 {
		port = d.Engine.defaultPort()
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

func (d DataSource) displayScheme() string {
	if d.scheme != "" {
		return d.scheme
	}
	if d.Engine == Postgres {
		return "postgresql"
	}
	return string(d.Engine)
}

// Masked renders the source as a URL with the password and any password
// like query parameter replaced by MaskedPassword.
func (d DataSource) Masked() string {
	if d.IsZero() {
		return ""
	}
	if d.Engine == SQLite {
		s := d.displayScheme() + ":///" + d.Database
		if d.Database == MemoryPath {
			s = d.displayScheme() + "://"
		}
		if q := encodeParams(d.Params, true); q != "" {
			s += "?" + q
		}
		return s
	}
	u := url.URL{Scheme: d.displayScheme(), Host: d.Host}
	if d.Port != 0 {
		u.Host = d.addr()
	}
	params := d.Params
	if d.Engine == SQLServer && d.Database != "" {
		params = withParam(params, "database", d.Database)
	} else if d.Database != "" {
		u.Path = "/" + d.Database
	}
	u.RawQuery = encodeParams(params, true)
	s := u.String()
	if d.User == "" {
		return s
	}
	// url.Userinfo would percent-encode the mask.
	userinfo := url.User(d.User).String()
	if d.Password != "" {
		userinfo += ":" + MaskedPassword
	}
	prefix := u.Scheme + "://"
	return prefix + userinfo + "@" + strings.TrimPrefix(s, prefix)
}

// String returns the masked form so that formatting a DataSource never
// leaks credentials.
func (d DataSource) String() string { return d.Masked() }

// GoString keeps %#v masked as well.
func (d DataSource) GoString() string { return "db.DataSource(" + d.Masked() + ")" }

// MarshalJSON encodes the masked URL.
func (d DataSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Masked())
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (d DataSource) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("engine", string(d.Engine))
	enc.AddString("url", d.Masked())
	return nil
}

// Details returns host, port, database or filename, never the password.
func (d DataSource) Details() map[string]string {
	out := make(map[string]string)
	if d.Engine == SQLite {
		if d.Database != MemoryPath {
			out["filename"] = filepath.Base(d.Database)
		}
		out["database"] = d.Database
		return out
	}
	out["host"] = d.Host
	port := d.Port
	if port == 0 {
		port = d.Engine.defaultPort()
	}
	out["port"] = strconv.Itoa(port)
	if d.Database != "" {
		out["database"] = d.Database
	}
	if d.User != "" {
		out["username"] = d.User
	}
	return out
}

// dsn formats the driver connection string. It is the only place the
// password leaves the struct.
func (d DataSource) dsn() (string, error) {
	switch d.Engine {
	case Postgres:
		u := url.URL{Scheme: "postgres", Host: d.addr(), Path: "/" + d.Database}
		if d.User != "" {
			u.User = url.UserPassword(d.User, d.Password)
		}
		u.RawQuery = encodeParams(d.Params, false)
		return u.String(), nil
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = d.addr()
		cfg.DBName = d.Database
		cfg.ParseTime = true
		for k, v := range d.Params {
			switch k {
			case "tls":
				cfg.TLSConfig = v
				continue
			case "charset":
				// Driver option in DSN form, a session variable in Params.
				continue
			}
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			cfg.Params[k] = v
		}
		return cfg.FormatDSN(), nil
	case SQLite:
		return sqliteDSN(d.Database), nil
	case SQLServer:
		u := url.URL{Scheme: "sqlserver", Host: d.addr()}
		if d.User != "" {
			u.User = url.UserPassword(d.User, d.Password)
		}
		params := d.Params
		if d.Database != "" {
			params = withParam(params, "database", d.Database)
		}
		u.RawQuery = encodeParams(params, false)
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported database type %q", d.Engine)
}

var sqlitePathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// sqliteDSN opens files read-only. A missing file is an error rather than
// an empty database being created.
func sqliteDSN(path string) string {
	if path == MemoryPath || path == "" {
		return MemoryPath
	}
	return "file:" + sqlitePathEscaper.Replace(path) + "?mode=ro&_pragma=busy_timeout(5000)"
}

func withParam(params map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for pk, pv := range params {
		out[pk] = pv
	}
	out[k] = v
	return out
}

func isSecretParam(k string) bool {
	k = strings.ToLower(k)
	for _, s := range []string{"password", "passwd", "pwd", "secret", "token"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func encodeParams(params map[string]string, mask bool) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		if mask && isSecretParam(k) {
			parts = append(parts, url.QueryEscape(k)+"="+MaskedPassword)
			continue
		}
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	return strings.Join(parts, "&")
}

package configlibsql

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct configures a database, a local sqlite file when only File is set or
// a remote libsql database when Url is set.
type Struct struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Struct) OpenDB() (*sql.DB, error) {
	if config.Url != "" {
		return config.openRemote()
	}
	if config.File == "" {
		return nil, fmt.Errorf("a path was not specified")
	}

	dbpath, err := filepath.Abs(config.File)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(filepath.Dir(dbpath), 0755)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (config Struct) openRemote() (*sql.DB, error) {
	dsn, err := url.Parse(config.Url)
	if err != nil {
		return nil, err
	}
	if config.AuthToken != "" {
		query := dsn.Query()
		query.Set("authToken", config.AuthToken)
		dsn.RawQuery = query.Encode()
	}
	return sql.Open("libsql", dsn.String())
}

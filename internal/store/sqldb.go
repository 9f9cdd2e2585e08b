// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	dbDriver      = "mysql"
	DefaultDBName = "metrics"
	dbPoolSize    = 4
	dbConnLife    = 30 * time.Minute
	dbTimeout     = 5
)

var ErrBadHostname = fmt.Errorf("hostname is required")

type SQLClient struct {
	db      *sql.DB
	timeout time.Duration
	name    string
}

func (sc *SQLClient) Name() string {
	if sc == nil {
		return ""
	}
	return sc.name
}

func (sc *SQLClient) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sc.timeout)
}

func (sc *SQLClient) Close() error {
	if sc.db != nil {
		err := sc.db.Close()
		sc.db = nil
		return err
	}
	return nil
}

func (sc *SQLClient) GetDB() *sql.DB {
	return sc.db
}

func (sc *SQLClient) Ping() error {
	ctx, cancel := sc.context()
	defer cancel()
	return sc.db.PingContext(ctx)
}

// DSN builds a go-sql-driver DSN for hostname (host or host:port).
func DSN(hostname, user, pwd, dbName string) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = hostname
	cfg.User = user
	cfg.Passwd = pwd
	cfg.DBName = dbName
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// NewSQLClient opens a pool against a MySQL-compatible server (Aurora MySQL,
// MariaDB) and verifies it with a ping. timeout bounds the ping in seconds.
func NewSQLClient(hostname, user, pwd string, timeout int, dbName string) (*SQLClient, error) {
	if hostname == "" {
		return nil, ErrBadHostname
	}

	if dbName == "" {
		dbName = DefaultDBName
	}

	db, err := sql.Open(dbDriver, DSN(hostname, user, pwd, dbName))
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(dbConnLife)
	db.SetMaxOpenConns(dbPoolSize)
	db.SetMaxIdleConns(dbPoolSize)

	if timeout < 1 {
		timeout = dbTimeout
	}

	sc := &SQLClient{
		db:      db,
		timeout: time.Duration(timeout) * time.Second,
		name:    hostname,
	}

	if err = sc.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sc, nil
}

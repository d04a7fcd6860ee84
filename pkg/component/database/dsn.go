package database

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildMySQLDSN creates a MySQL DSN: username:password@tcp(host:port)/database?params.
// The password is escaped so characters like @ or / cannot break parsing.
func BuildMySQLDSN(opts *Options) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		opts.Username,
		url.QueryEscape(opts.Password),
		opts.Host,
		opts.Port,
		opts.Database,
	)
}

// BuildPostgresDSN creates a key=value PostgreSQL DSN.
func BuildPostgresDSN(opts *Options) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		opts.Host,
		opts.Port,
		opts.Username,
		escapePostgresValue(opts.Password),
		opts.Database,
		opts.SSLMode,
	)
}

// escapePostgresValue quotes values containing spaces, quotes or backslashes.
func escapePostgresValue(value string) string {
	if value == "" {
		return "''"
	}

	if strings.ContainsAny(value, " '\\") {
		escaped := strings.ReplaceAll(value, "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "'", "''")
		return "'" + escaped + "'"
	}

	return value
}

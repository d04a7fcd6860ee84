package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMySQLDSN_EscapesPassword(t *testing.T) {
	opts := NewOptions()
	opts.Driver = DriverMySQL
	opts.Password = "p@ss/word"
	require.NoError(t, opts.Complete())

	dsn := BuildMySQLDSN(opts)
	assert.Equal(t, "docchat:p%40ss%2Fword@tcp(127.0.0.1:3306)/docchat?charset=utf8mb4&parseTime=True&loc=Local", dsn)
}

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		password string
		expected string
	}{
		{"普通密码", "secret", "password=secret "},
		{"空密码", "", "password='' "},
		{"含空格", "a b", "password='a b' "},
		{"含引号和反斜杠", `it's\`, `password='it''s\\' `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			opts.Driver = DriverPostgres
			opts.Password = tt.password
			require.NoError(t, opts.Complete())

			dsn := BuildPostgresDSN(opts)
			assert.Contains(t, dsn, tt.expected)
			assert.Contains(t, dsn, "port=5432")
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	opts := NewOptions()
	assert.Empty(t, opts.Validate())

	opts.Driver = "oracle"
	assert.Len(t, opts.Validate(), 1)

	opts.Driver = DriverPostgres
	opts.Host = ""
	assert.Len(t, opts.Validate(), 1)
}

func TestNew_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docchat.db")

	c, err := New(context.Background(), NewOptions(), path)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DriverSQLite, c.Name())
	assert.NoError(t, c.Ping(context.Background()))
	assert.FileExists(t, path)
}

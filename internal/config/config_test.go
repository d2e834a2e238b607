package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(`
connection:
  type: sqlite
  params:
    database: /var/lib/historian/data.db
`))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Connection.Type)
	assert.Equal(t, "/var/lib/historian/data.db", cfg.Connection.Params["database"])
	assert.False(t, cfg.ReadOnly)
}

func TestParse_FullDescriptor(t *testing.T) {
	cfg, err := Parse([]byte(`
connection:
  type: sqlite
  params:
    database: data.db
    timeout: 15
tables:
  table_prefix: p1
  data_table: readings
  topics_table: topics
  meta_table: topics
readonly: true
`))
	require.NoError(t, err)
	assert.True(t, cfg.ReadOnly)

	tn := cfg.Tables.TableNames()
	assert.Equal(t, "p1_readings", tn.Data)
	assert.Equal(t, "p1_topics", tn.Topics)
	assert.True(t, tn.Colocated())
}

func TestParse_DefaultTables(t *testing.T) {
	cfg, err := Parse([]byte(`
connection:
  type: sqlite
  params:
    database: data.db
`))
	require.NoError(t, err)

	tn := cfg.Tables.TableNames()
	assert.Equal(t, "data", tn.Data)
	assert.Equal(t, "topics", tn.Topics)
	assert.Equal(t, "meta", tn.Meta)
	assert.False(t, tn.Colocated())
}

func TestParse_MissingType(t *testing.T) {
	_, err := Parse([]byte(`
connection:
  params:
    database: data.db
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection.type")
}

func TestParse_MissingParams(t *testing.T) {
	_, err := Parse([]byte(`
connection:
  type: sqlite
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection.params")
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte(`
connection:
  type: sqlite
  params:
    database: data.db
conection_typo: oops
`))
	require.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
connection:
  type: sqlite
  params:
    database: data.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Connection.Type)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

func TestConnection_LogValueMasksSecrets(t *testing.T) {
	conn := Connection{
		Type: "sqlite",
		Params: map[string]any{
			"database": "data.db",
			"password": "hunter2",
		},
	}
	rendered := conn.LogValue().String()
	assert.NotContains(t, rendered, "hunter2")
	assert.Contains(t, rendered, "********")
	assert.Contains(t, rendered, "data.db")
}

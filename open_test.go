package dataflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow"
	"github.com/syssam/dataflow/dialect"
)

func TestOpenSQLiteMemory(t *testing.T) {
	t.Parallel()

	drv, err := dataflow.Open("sqlite:///:memory:")
	require.NoError(t, err)
	defer drv.Close()

	assert.Equal(t, dialect.SQLite, drv.Dialect())
}

func TestOpenSQLiteFilePathKeepsLeadingSlash(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/app.db"
	drv, err := dataflow.Open("sqlite://" + path)
	require.NoError(t, err)
	defer drv.Close()

	assert.Equal(t, dialect.SQLite, drv.Dialect())
}

func TestOpenUnsupportedSchemeRejected(t *testing.T) {
	t.Parallel()

	_, err := dataflow.Open("mongodb://localhost/db")
	require.Error(t, err)
}

func TestOpenUnknownSchemeRejected(t *testing.T) {
	t.Parallel()

	_, err := dataflow.Open("redis://localhost")
	require.Error(t, err)
}

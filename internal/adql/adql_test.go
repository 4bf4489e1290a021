package adql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetTop(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"plain select", "SELECT * FROM t", "SELECT TOP 2000 * FROM t"},
		{"lower case", "select ra, dec from gaia", "select TOP 2000 ra, dec from gaia"},
		{"distinct", "SELECT DISTINCT a FROM t", "SELECT DISTINCT TOP 2000 a FROM t"},
		{"existing top", "SELECT TOP 10 * FROM t", "SELECT TOP 10 * FROM t"},
		{"existing lower top", "select top 5 a from t", "select top 5 a from t"},
		{"no select", "DESCRIBE t", "DESCRIBE t"},
		{"empty", "", ""},
		{"column named topx", "SELECT topx FROM t", "SELECT TOP 2000 topx FROM t"},
		{"top in subquery", "SELECT * FROM t WHERE id IN (SELECT TOP 5 id FROM u)",
			"SELECT TOP 2000 * FROM t WHERE id IN (SELECT TOP 5 id FROM u)"},
		{"top in string literal", "SELECT * FROM t WHERE name = 'TOP 5'", "SELECT TOP 2000 * FROM t WHERE name = 'TOP 5'"},
		{"top in line comment", "SELECT * FROM t -- TOP 3 rows", "SELECT TOP 2000 * FROM t -- TOP 3 rows"},
		{"top in block comment", "/* SELECT TOP 3 */ SELECT a FROM t", "/* SELECT TOP 3 */ SELECT TOP 2000 a FROM t"},
		{"select inside literal first", "SELECT 'it''s SELECT TOP 1' AS s FROM t", "SELECT TOP 2000 'it''s SELECT TOP 1' AS s FROM t"},
		{"no space after select", "SELECT*FROM t", "SELECT TOP 2000 *FROM t"},
		{"distinct with top", "SELECT DISTINCT TOP 7 a FROM t", "SELECT DISTINCT TOP 7 a FROM t"},
		{"newline before top", "SELECT\nTOP 3 a FROM t", "SELECT\nTOP 3 a FROM t"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SetTop(tc.query, DefaultSyncTop))
		})
	}
}

func TestHasTop(t *testing.T) {
	assert.True(t, HasTop("select all top 10 a from t"))
	assert.False(t, HasTop("SELECT a FROM t WHERE b IN (SELECT TOP 1 b FROM u)"))
	assert.False(t, HasTop("SELECT a FROM t -- TOP 3"))
	assert.False(t, HasTop("DESCRIBE t"))
}

func TestSetTop_NonPositive(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t", SetTop("SELECT * FROM t", 0))
}

func TestSchemaName(t *testing.T) {
	s, ok := SchemaName("gaiadr3.gaia_source")
	assert.True(t, ok)
	assert.Equal(t, "gaiadr3", s)

	s, ok = SchemaName("user_jdoe.a.b")
	assert.True(t, ok)
	assert.Equal(t, "user_jdoe.a", s)

	_, ok = SchemaName("gaia_source")
	assert.False(t, ok)

	assert.Equal(t, "gaia_source", TableName("gaiadr3.gaia_source"))
	assert.Equal(t, "t", TableName("t"))
}

func TestJobIDFromLocation(t *testing.T) {
	assert.Equal(t, "1623144593791O", JobIDFromLocation("http://host/tap-server/tap/async/1623144593791O"))
	assert.Equal(t, "42", JobIDFromLocation("async/42/"))
	assert.Equal(t, "abc", JobIDFromLocation("abc"))
}

func TestSyncSubcontext(t *testing.T) {
	assert.Equal(t, "sync/results/123", SyncSubcontext("http://host/tap/sync/results/123"))
	assert.Equal(t, "other/path", SyncSubcontext("other/path"))
	assert.Equal(t, "sync/1", SyncSubcontext("http://async.example.org/tap/sync/1"))
	assert.Equal(t, "sync/2", SyncSubcontext("http://sync.example.org/tap/sync/2"))
	assert.Equal(t, "sync", SyncSubcontext("http://host/tap/sync"))
	assert.Equal(t, "sync/3?x=1", SyncSubcontext("http://host/synchro/tap/sync/3?x=1"))
	assert.Equal(t, "sync/4", SyncSubcontext("sync/4"))
}

func TestErrorMessage(t *testing.T) {
	t.Run("votable", func(t *testing.T) {
		body := `<?xml version="1.0"?>
<VOTABLE version="1.3"><RESOURCE type="results">
<INFO value="ERROR" name="QUERY_STATUS">Cannot parse query: unknown table foo</INFO>
</RESOURCE></VOTABLE>`
		assert.Equal(t, "Cannot parse query: unknown table foo", ErrorMessage(body))
	})

	t.Run("html", func(t *testing.T) {
		body := `<html><ul><li><b>Message: </b>Missing ADQL query</li></ul></html>`
		assert.Equal(t, "Missing ADQL query", ErrorMessage(body))
	})

	t.Run("raw fallback", func(t *testing.T) {
		assert.Equal(t, "internal failure", ErrorMessage("  internal failure\n"))
	})

	t.Run("malformed votable falls back", func(t *testing.T) {
		body := `<VOTABLE><INFO name="QUERY_STATUS" value="OK">fine</INFO>`
		assert.Equal(t, body, ErrorMessage(body))
	})
}

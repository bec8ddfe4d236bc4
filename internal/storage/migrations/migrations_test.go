package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	input := `
-- comment line
CREATE TABLE a (x Int64);

CREATE TABLE b (y String)
ENGINE = MergeTree();
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x Int64)", stmts[0])
	assert.Contains(t, stmts[1], "ENGINE = MergeTree()")
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'a''b'; SELECT 1;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b'"))
}

func TestLoad(t *testing.T) {
	pg, err := Load(DialectPostgres)
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Contains(t, pg[0].SQL, "wallet_rewards")

	ch, err := Load(DialectClickhouse)
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		assert.Regexp(t, `^\d{3}_.*\.sql$`, m.Name)
		assert.NoError(t, validateNoSemicolonInStrings(m.SQL))
		assert.NotEmpty(t, splitStatements(m.SQL))
	}

	_, err = Load("sqlite")
	assert.Error(t, err)
}

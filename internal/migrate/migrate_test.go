package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		default:
			require.True(t, strings.HasSuffix(name, ".down.sql"), "unexpected migration file %s", name)
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestSchemaCoversQueries(t *testing.T) {
	raw, err := fs.ReadFile(migrationFS, "migrations/000001_generation_jobs.up.sql")
	require.NoError(t, err)
	schema := string(raw)
	for _, col := range []string{"tenant_id", "provider_job_id", "result_image_ref", "linked_catalog_entry_id", "processing_seconds"} {
		assert.Contains(t, schema, col)
	}
}

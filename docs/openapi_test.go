package docs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "3.0.3", doc.OpenAPI)
	require.NotNil(t, doc.Paths.Find("/webhooks/stripe"))
	require.NotNil(t, doc.Paths.Find("/api/v1/admin/batches/{id}"))
}

func TestAdminOperationsRequireAPIKey(t *testing.T) {
	doc, err := Load(context.Background())
	require.NoError(t, err)

	seen := map[string]bool{}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			require.NotEmpty(t, op.OperationID, "%s %s", method, path)
			assert.False(t, seen[op.OperationID], "duplicate operationId %s", op.OperationID)
			seen[op.OperationID] = true

			if !strings.HasPrefix(path, "/api/v1/admin/") {
				continue
			}
			require.NotNil(t, op.Security, "%s %s", method, path)
			require.Len(t, *op.Security, 1)
			_, ok := (*op.Security)[0]["ApiKeyAuth"]
			assert.True(t, ok, "%s %s", method, path)
		}
	}
}

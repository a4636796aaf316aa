package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEscalationAudit(t *testing.T) {
	var buf bytes.Buffer
	prev := GetAuditLogger()
	SetAuditLogger(NewAuditLogger(zerolog.New(&buf)))
	defer SetAuditLogger(prev)

	RecordEscalationAudit(context.Background(), "session-1", "failure", map[string]interface{}{
		"reference": "abc",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "escalation", entry["type"])
	assert.Equal(t, "session-1", entry["actor"])
	assert.Equal(t, "escalation.deliver", entry["action"])
	assert.Equal(t, "failure", entry["status"])
	assert.Equal(t, "abc", entry["metadata"].(map[string]interface{})["reference"])
}

func TestInitAuditLogger(t *testing.T) {
	prev := GetAuditLogger()
	defer SetAuditLogger(prev)

	path := t.TempDir() + "/audit.log"
	require.NoError(t, InitAuditLogger(path))
	RecordEscalationAudit(context.Background(), "s1", "success", nil)
	assert.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"escalation.deliver"`)
}

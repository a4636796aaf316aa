package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/concierge/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskCommand(t *testing.T) {
	t.Run("prints the reply", func(t *testing.T) {
		path, _ := writeConfig(t)
		useProvider(t, llm.NewScripted("", llm.Reply("Doors open at 9am on Saturday.")))

		output, err := execute(t, "", "ask", "--config", path, "When", "do", "doors", "open?")
		require.NoError(t, err)
		assert.Equal(t, "Doors open at 9am on Saturday.\n", output)
	})

	t.Run("json output", func(t *testing.T) {
		path, _ := writeConfig(t)
		useProvider(t, llm.NewScripted("", llm.Reply("Doors open at 9am on Saturday.")))

		output, err := execute(t, "", "ask", "--config", path, "--json", "--session", "s1", "When do doors open?")
		require.NoError(t, err)

		var res map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(output), &res))
		assert.Equal(t, "Doors open at 9am on Saturday.", res["text"])
		assert.Equal(t, "answered", res["outcome"])
	})

	t.Run("requires a question", func(t *testing.T) {
		_, err := execute(t, "", "ask")
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "concierge.yaml")
		require.NoError(t, os.WriteFile(path, []byte("data_dir: "+dir+"\n"), 0644))

		_, err := execute(t, "", "ask", "--config", path, "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no model credentials configured")
	})
}

func TestChatCommand(t *testing.T) {
	path, _ := writeConfig(t)
	useProvider(t, llm.NewScripted("", llm.Reply("Doors open at 9am on Saturday.")))

	output, err := execute(t, "When do doors open?\nquit\n", "chat", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Ask me anything about the event")
	assert.Contains(t, output, "Doors open at 9am on Saturday.")
}

func TestConfigValidateCommand(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path, _ := writeConfig(t)
		output, err := execute(t, "", "config", "validate", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration is valid")
		assert.Contains(t, output, "Models: 1 profile(s)")
	})

	t.Run("lists problems", func(t *testing.T) {
		path, _ := writeConfig(t)
		t.Setenv("CONCIERGE_ANSWER_TIMEZONE", "Nowhere/Special")

		output, err := execute(t, "", "config", "validate", "--config", path)
		require.Error(t, err)
		assert.Contains(t, output, "Configuration problems:")
		assert.Contains(t, output, "Nowhere/Special")
	})

	t.Run("lists missing tenant secrets", func(t *testing.T) {
		path, dir := writeConfig(t)
		tenant := filepath.Join(dir, "tenant.yaml")
		require.NoError(t, os.WriteFile(tenant, []byte(`
tenant_id: demo
env:
  openai_api_key_env_key: CONCIERGE_TEST_UNSET_OPENAI_KEY
escalation:
  discord_webhook:
    webhook_url_env_key: CONCIERGE_TEST_UNSET_DISCORD_URL
`), 0644))

		output, err := execute(t, "", "config", "validate", "--config", path, "--tenant", tenant)
		require.Error(t, err)
		assert.Contains(t, output, "Missing environment variables")
		assert.Contains(t, output, "CONCIERGE_TEST_UNSET_OPENAI_KEY")
		assert.Contains(t, output, "CONCIERGE_TEST_UNSET_DISCORD_URL")
	})
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "concierge.yaml")

	output, err := execute(t, "", "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Wrote "+path)
	assert.FileExists(t, path)

	_, err = execute(t, "", "config", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "", "config", "init", "--config", path, "--force")
	require.NoError(t, err)
}

func TestIndexCommand(t *testing.T) {
	t.Run("index disabled", func(t *testing.T) {
		path, _ := writeConfig(t)
		useProvider(t, llm.NewScripted(""))

		_, err := execute(t, "", "index", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "knowledge.index")
	})

	t.Run("builds the index", func(t *testing.T) {
		path, _ := writeConfig(t)
		t.Setenv("CONCIERGE_KNOWLEDGE_INDEX", "true")
		t.Setenv("CONCIERGE_KNOWLEDGE_WATCH", "false")
		useProvider(t, llm.NewScripted(""))

		output, err := execute(t, "", "index", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Indexed: 1, skipped: 0, failed: 0, pruned: 0")
		assert.Contains(t, output, "Files: 1")
		assert.Contains(t, output, "Search: keyword")
		assert.Contains(t, output, "Database: ")
	})
}

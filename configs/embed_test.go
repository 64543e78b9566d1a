package configs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/hybridrank/internal/config"
)

func TestTemplate_MatchesDefaults(t *testing.T) {
	// Given: the defaults
	cfg := config.NewConfig()
	want := *cfg

	// When: the template is decoded over them
	require.NoError(t, yaml.Unmarshal([]byte(Template), cfg))

	// Then: it validates and changes nothing
	require.NoError(t, cfg.Validate())
	assert.Equal(t, want, *cfg)
}

func TestTemplate_HasEverySection(t *testing.T) {
	for _, section := range []string{"retrieval:", "embeddings:", "rerank:", "server:", "ingest:"} {
		assert.True(t, strings.Contains(Template, "\n"+section+"\n"), section)
	}
}

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("catalog")
	logger.Info().Str("table", "cids").Msg("added column")

	out := buf.String()
	assert.Contains(t, out, `"component":"catalog"`)
	assert.Contains(t, out, `"table":"cids"`)
	assert.Contains(t, out, `"message":"added column"`)

	buf.Reset()
	logger = WithCID("bafytest")
	logger.Debug().Msg("sampled")
	assert.Contains(t, buf.String(), `"cid":"bafytest"`)

	buf.Reset()
	logger = WithTask("pin_sync")
	logger.Warn().Msg("skipped")
	assert.Contains(t, buf.String(), `"task":"pin_sync"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("api")
	logger.Info().Msg("suppressed")
	assert.Empty(t, buf.String())

	logger.Error().Msg("surfaced")
	assert.Contains(t, buf.String(), `"message":"surfaced"`)
}

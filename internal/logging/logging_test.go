package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("bandscore", Config{Level: "debug", Format: "json"}, &buf)

	log.WithField("session_id", "s1").Debug("submitted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "submitted", line["message"])
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "bandscore", line["service"])
	assert.Equal(t, "s1", line["session_id"])
	assert.Contains(t, line, "timestamp")
}

func TestNewWithOutput_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("bandscore", Config{Level: "loud"}, &buf)
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())

	log.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestNewWithOutput_Text(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("bandscore", Config{Level: "info", Format: "TEXT"}, &buf)
	log.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service=bandscore")
}

package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	prod := New("debug", "production")
	assert.IsType(t, &logrus.JSONFormatter{}, prod.Formatter)
	assert.Equal(t, logrus.DebugLevel, prod.GetLevel())

	dev := New("nonsense", "development")
	assert.IsType(t, &logrus.TextFormatter{}, dev.Formatter)
	assert.Equal(t, logrus.InfoLevel, dev.GetLevel())
}

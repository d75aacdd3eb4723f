package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetDebug(t *testing.T) {
	SetDebug(true)
	assert.Equal(t, logrus.DebugLevel, base.GetLevel())

	SetDebug(false)
	assert.Equal(t, logrus.InfoLevel, base.GetLevel())
}

func TestGet(t *testing.T) {
	entry := Get("mailbox")
	assert.Equal(t, "mailbox", entry.Data["component"])
}

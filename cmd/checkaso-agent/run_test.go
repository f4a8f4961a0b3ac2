// ABOUTME: Tests for mapping configuration onto the agent's components
// ABOUTME: Covers notifier command selection and uplink timing propagation

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/knyazev692/checkaso/internal/config"
	"github.com/knyazev692/checkaso/internal/notify"
)

func TestNotifyConfig(t *testing.T) {
	c := config.Default().Notify

	assert.Equal(t, notify.DefaultCommand(), notifyConfig(c).Command)

	c.Command = []string{"log"}
	assert.Nil(t, notifyConfig(c).Command)

	c.Command = []string{"zenity", "--info", "--text={body}"}
	got := notifyConfig(c)
	assert.Equal(t, c.Command, got.Command)
	assert.Equal(t, 10*time.Second, got.Timeout)
	assert.Equal(t, 3, got.Burst)
}

func TestUplinkConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Coordinator = "10.0.0.5:12345"
	cfg.Agent.ReconnectDelay = config.Duration(7 * time.Second)
	cfg.DND.PollInterval = config.Duration(500 * time.Millisecond)

	u := uplinkConfig(cfg, "desk-07")
	assert.Equal(t, "desk-07", u.Hostname)
	assert.Equal(t, "10.0.0.5:12345", u.Coordinator)
	assert.Equal(t, 7*time.Second, u.ReconnectDelay)
	assert.Equal(t, 500*time.Millisecond, u.DNDPollInterval)
	assert.Equal(t, 15*time.Second, u.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, u.LivenessTimeout)
	assert.Equal(t, 3, u.MaxFailures)
	assert.Equal(t, "Message from server", u.MessageTitle)
}

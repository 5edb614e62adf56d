package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arrowlink/internal/config"
	"github.com/OCAP2/arrowlink/internal/session"
	"github.com/OCAP2/arrowlink/pkg/core"
)

func TestApp_SamplesWhileWaitingForPeer(t *testing.T) {
	t.Cleanup(viper.Reset)
	config.SetDefaults()
	viper.Set("logsDir", t.TempDir())
	viper.Set("link.address", "127.0.0.1:0")
	viper.Set("link.establishTimeout", "300ms")
	viper.Set("sampler.interval", "10ms")

	opts, err := parseArgs([]string{"host"}, &bytes.Buffer{})
	require.NoError(t, err)

	a, err := newApp(opts, &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(a.close)

	err = a.run(context.Background())
	require.ErrorIs(t, err, session.ErrEstablishFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Nobody joined, yet the own marker was sampled and published.
	assert.Positive(t, a.sampler.Stats().Cycles)
	assert.True(t, a.reg.OwnPose().Found)
	assert.False(t, a.reg.PeerPose().Found)
	assert.Equal(t, core.StateDisconnected, a.sess.State())
}

func TestApp_EstablishErrorStopsWorkers(t *testing.T) {
	t.Cleanup(viper.Reset)
	config.SetDefaults()
	viper.Set("logsDir", t.TempDir())
	viper.Set("link.transport", "carrier-pigeon")

	opts, err := parseArgs([]string{"join"}, &bytes.Buffer{})
	require.NoError(t, err)

	a, err := newApp(opts, &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(a.close)

	done := make(chan error, 1)
	go func() { done <- a.run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, `unknown link transport "carrier-pigeon"`)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after establish failed")
	}
}

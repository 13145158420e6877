package backend

import (
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestApplyOptions(t *testing.T) {
	c := clock.NewMock()
	logger := slog.Default().With("test", true)

	o := ApplyOptions(WithClock(c), WithLogger(logger), WithPollingInterval(10*time.Millisecond))

	require.Same(t, logger, o.Logger)
	require.Equal(t, c, o.Clock)
	require.Equal(t, 10*time.Millisecond, o.PollingInterval)
	require.NotNil(t, o.Converter)
}

func TestApplyOptions_Defaults(t *testing.T) {
	o := ApplyOptions(WithLogger(nil), WithPollingInterval(0))

	require.NotNil(t, o.Logger)
	require.Equal(t, DefaultOptions.PollingInterval, o.PollingInterval)

	o.PollingInterval = time.Hour
	require.Equal(t, time.Second, DefaultOptions.PollingInterval)
}

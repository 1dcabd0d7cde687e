package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/transport/transporttest"
)

func deviceConfig() *config.Config {
	c := config.New()
	c.Identity = config.Identity{OrgID: "abc123", TypeID: "sensor", DeviceID: "dev01"}
	c.Auth.Token = "secret"
	return c
}

func newTestClient(t *testing.T, clientType config.ClientType, cfg *config.Config, opts ...Option) (*Client, *transporttest.Fake) {
	t.Helper()
	fake := transporttest.New()
	opts = append([]Option{
		WithTransportFactory(fake.Factory()),
		WithBackoff(func(int) time.Duration { return time.Millisecond }),
		WithSubscribeWait(50 * time.Millisecond),
	}, opts...)
	c, err := New(cfg, clientType, opts...)
	require.NoError(t, err)
	return c, fake
}

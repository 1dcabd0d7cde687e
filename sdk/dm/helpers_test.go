package dm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/margo/wiotp-client/sdk/client"
	"github.com/margo/wiotp-client/sdk/config"
	"github.com/margo/wiotp-client/sdk/transport/transporttest"
)

func testConfig(typeID, deviceID string) *config.Config {
	cfg := config.New()
	cfg.Identity = config.Identity{OrgID: "abc123", TypeID: typeID, DeviceID: deviceID}
	cfg.Auth.Token = "secret"
	return cfg
}

func testOptions(fake *transporttest.Fake, extra ...client.Option) []client.Option {
	return append([]client.Option{
		client.WithTransportFactory(fake.Factory()),
		client.WithSubscribeWait(50 * time.Millisecond),
	}, extra...)
}

func newManagedDevice(t *testing.T, extra ...client.Option) (*ManagedDevice, *transporttest.Fake) {
	t.Helper()
	fake := transporttest.New()
	md, err := NewManagedDevice(testConfig("sensor", "dev01"), testOptions(fake, extra...)...)
	require.NoError(t, err)
	require.NoError(t, md.Connect(context.Background()))
	md.SetResponseTimeout(time.Second)
	return md, fake
}

// answer makes the fake platform reply to every request published on a
// topic ending in one of suffixes.
func answer(fake *transporttest.Fake, code int, suffixes ...string) {
	fake.OnPublish = func(p transporttest.Publication) {
		for _, suffix := range suffixes {
			if !strings.HasSuffix(p.Topic, "/"+suffix) {
				continue
			}
			var req struct {
				ReqID string `json:"reqId"`
			}
			if err := json.Unmarshal(p.Payload, &req); err != nil {
				return
			}
			scope := strings.TrimSuffix(strings.TrimPrefix(p.Topic, client.DeviceTopicRoot+"/"), suffix)
			reply, _ := json.Marshal(map[string]interface{}{"rc": code, "reqId": req.ReqID})
			fake.Deliver(client.DMTopicRoot+"/"+scope+"response", reply)
			return
		}
	}
}

type published struct {
	RC      int             `json:"rc"`
	ReqID   string          `json:"reqId"`
	Message string          `json:"message"`
	D       json.RawMessage `json:"d"`
}

// lastOn decodes the most recent publication on topic.
func lastOn(t *testing.T, fake *transporttest.Fake, topic string) (published, transporttest.Publication) {
	t.Helper()
	pubs := fake.Published()
	for i := len(pubs) - 1; i >= 0; i-- {
		if pubs[i].Topic == topic {
			var out published
			require.NoError(t, json.Unmarshal(pubs[i].Payload, &out))
			return out, pubs[i]
		}
	}
	t.Fatalf("nothing published on %s", topic)
	return published{}, transporttest.Publication{}
}

func countOn(fake *transporttest.Fake, topic string) int {
	n := 0
	for _, p := range fake.Published() {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

func deliverAction(fake *transporttest.Fake, topic, reqID string, fields ...Field) {
	var req actionRequest
	req.ReqID = reqID
	req.D.Fields = fields
	payload, _ := json.Marshal(req)
	fake.Deliver(topic, payload)
}

func newFake() *transporttest.Fake {
	return transporttest.New()
}

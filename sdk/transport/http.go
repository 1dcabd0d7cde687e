package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HTTP1Transport publishes events and commands through the platform HTTP
// messaging API. It cannot receive messages.
type HTTP1Transport struct {
	client    *http.Client
	baseURL   string
	config    Config
	connected atomic.Bool
	log       *zap.SugaredLogger
}

func NewHTTP1Transport(config Config) *HTTP1Transport {
	timeout := config.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	return &HTTP1Transport{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
				TLSClientConfig:    config.TLS,
			},
		},
		baseURL: strings.TrimSuffix(config.BrokerURL, "/"),
		config:  config,
		log:     config.Logger,
	}
}

// Connect only marks the transport usable; every publish is its own request.
func (h *HTTP1Transport) Connect(ctx context.Context) error {
	h.connected.Store(true)
	return nil
}

func (h *HTTP1Transport) Disconnect(time.Duration) {
	h.connected.Store(false)
	h.client.CloseIdleConnections()
}

func (h *HTTP1Transport) IsConnected() bool {
	return h.connected.Load()
}

func (h *HTTP1Transport) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	path, format, err := h.pathFor(topic)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType(format))
	if h.config.Username != "" {
		req.SetBasicAuth(h.config.Username, h.config.Password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post to %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	h.log.Debugw("Published over HTTP", "path", path, "status", resp.StatusCode)
	return nil
}

func (h *HTTP1Transport) Subscribe(context.Context, string, byte, MessageHandler) error {
	return ErrNotSupported
}

func (h *HTTP1Transport) Unsubscribe(context.Context, ...string) error {
	return ErrNotSupported
}

func (h *HTTP1Transport) Protocol() ProtocolType {
	return HTTP1
}

// pathFor maps an MQTT topic to the equivalent HTTP API resource.
func (h *HTTP1Transport) pathFor(topic string) (path, format string, err error) {
	p := strings.Split(topic, "/")
	esc := url.PathEscape

	switch {
	// iot-2/evt/E/fmt/F
	case len(p) == 5 && p[0] == "iot-2" && p[1] == "evt" && p[3] == "fmt":
		if h.config.TypeID == "" || h.config.DeviceID == "" {
			return "", "", fmt.Errorf("device identity required to publish %s over HTTP", topic)
		}
		return fmt.Sprintf("/device/types/%s/devices/%s/events/%s", esc(h.config.TypeID), esc(h.config.DeviceID), esc(p[2])), p[4], nil

	// iot-2/type/T/id/I/(evt|cmd)/X/fmt/F
	case len(p) == 9 && p[0] == "iot-2" && p[1] == "type" && p[3] == "id" && p[7] == "fmt":
		api := "device"
		if h.config.Application {
			api = "application"
		}
		switch p[5] {
		case "evt":
			return fmt.Sprintf("/%s/types/%s/devices/%s/events/%s", api, esc(p[2]), esc(p[4]), esc(p[6])), p[8], nil
		case "cmd":
			if !h.config.Application {
				break
			}
			return fmt.Sprintf("/application/types/%s/devices/%s/commands/%s", esc(p[2]), esc(p[4]), esc(p[6])), p[8], nil
		}
	}
	return "", "", fmt.Errorf("%w: topic %s has no HTTP equivalent", ErrNotSupported, topic)
}

func contentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "xml":
		return "application/xml"
	case "text", "txt", "csv":
		return "text/plain"
	}
	return "application/octet-stream"
}

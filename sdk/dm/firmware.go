package dm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/margo/wiotp-client/sdk/rc"
	"github.com/margo/wiotp-client/shared-lib/crypto"
	"github.com/margo/wiotp-client/shared-lib/file"
)

type FirmwareOptions struct {
	TLS         *tls.Config
	MaxFileSize int64
	Timeout     time.Duration
	Headers     map[string]string
	// Progress, when set, is called while the image downloads.
	Progress func(downloaded, total int64)
}

// FirmwareDownloader carries out firmware download and update actions,
// keeping mgmt.firmware state and update status in step.
type FirmwareDownloader struct {
	m    *Manager
	dir  string
	opts FirmwareOptions

	mu   sync.Mutex
	path string
}

func NewFirmwareDownloader(m *Manager, dir string, opts FirmwareOptions) *FirmwareDownloader {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &FirmwareDownloader{m: m, dir: dir, opts: opts}
}

// ImagePath is the last successfully downloaded image.
func (d *FirmwareDownloader) ImagePath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *FirmwareDownloader) report(ctx context.Context, state FirmwareState, status *FirmwareUpdateStatus) {
	if status != nil {
		if err := d.m.SetFirmwareUpdateStatus(ctx, *status); err != nil {
			d.m.log.Warnw("Failed to report firmware update status", "status", status.String(), "error", err)
		}
	}
	if err := d.m.SetFirmwareState(ctx, state); err != nil {
		d.m.log.Warnw("Failed to report firmware state", "state", state.String(), "error", err)
	}
}

func (d *FirmwareDownloader) fail(ctx context.Context, status FirmwareUpdateStatus, err error) error {
	d.report(ctx, FirmwareIdle, &status)
	d.m.log.Errorw("Firmware action failed", "status", status.String(), "error", err)
	return rc.New(rc.ComponentDM, rc.OperationFirmware, rc.DMActionFailed, err).WithContext("updateStatus", status.String())
}

// Download accepts a firmware download action, fetches the image named by
// mgmt.firmware.uri into the download directory and checks it against the
// verifier. It returns the image path.
func (d *FirmwareDownloader) Download(ctx context.Context, a Action) (string, error) {
	if err := a.Respond(ctx, RCResponseAccepted, ""); err != nil {
		return "", err
	}
	d.report(ctx, FirmwareDownloading, nil)

	fw := d.m.Attributes().Firmware
	u, err := url.Parse(fw.URI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", d.fail(ctx, FirmwareInvalidURL, fmt.Errorf("invalid firmware uri %q", fw.URI))
	}

	name := fw.Name
	if name == "" {
		name = path.Base(u.Path)
	}
	target := filepath.Join(d.dir, filepath.Base(name))

	d.m.log.Infow("Downloading firmware", "uri", fw.URI, "version", fw.Version, "path", target)
	result, err := file.DownloadFile(ctx, fw.URI, &file.DownloadOptions{
		OutputPath:       target,
		CreateDirs:       true,
		OverwriteExist:   true,
		MaxFileSize:      d.opts.MaxFileSize,
		Timeout:          d.opts.Timeout,
		Headers:          d.opts.Headers,
		ProgressCallback: d.opts.Progress,
		TLS:              d.opts.TLS,
	})
	if err != nil {
		var se *file.StatusError
		if errors.As(err, &se) && se.StatusCode >= http.StatusBadRequest && se.StatusCode < http.StatusInternalServerError {
			return "", d.fail(ctx, FirmwareInvalidURL, err)
		}
		return "", d.fail(ctx, FirmwareConnectionLost, err)
	}

	if err := crypto.VerifyFirmwareDigest(result.FilePath, fw.Verifier); err != nil {
		return "", d.fail(ctx, FirmwareVerificationFailed, err)
	}

	d.mu.Lock()
	d.path = result.FilePath
	d.mu.Unlock()

	d.report(ctx, FirmwareDownloaded, nil)
	d.m.log.Infow("Firmware downloaded", "path", result.FilePath, "size", result.Size, "digest", result.Digest)
	return result.FilePath, nil
}

// Update accepts a firmware update action and installs the downloaded image
// with apply. On success the device info fwVersion takes the new version.
func (d *FirmwareDownloader) Update(ctx context.Context, a Action, apply func(path string) error) error {
	if err := a.Respond(ctx, RCResponseAccepted, ""); err != nil {
		return err
	}
	inProgress := FirmwareInProgress
	if err := d.m.SetFirmwareUpdateStatus(ctx, inProgress); err != nil {
		d.m.log.Warnw("Failed to report firmware update status", "status", inProgress.String(), "error", err)
	}

	image := d.ImagePath()
	if image == "" {
		return d.fail(ctx, FirmwareUnsupportedImage, errors.New("no firmware image has been downloaded"))
	}
	if err := apply(image); err != nil {
		return d.fail(ctx, FirmwareUnsupportedImage, err)
	}

	d.m.mu.Lock()
	d.m.attrs.DeviceInfo.FwVersion = d.m.attrs.Firmware.Version
	d.m.attrs.Firmware.UpdatedDateTime = time.Now().UTC().Format(time.RFC3339)
	version := d.m.attrs.Firmware.Version
	d.m.mu.Unlock()

	success := FirmwareSuccess
	d.report(ctx, FirmwareIdle, &success)
	d.m.log.Infow("Firmware updated", "version", version)
	return nil
}

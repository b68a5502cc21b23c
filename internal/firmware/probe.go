// Package firmware is the Firmware Probe (C2): the fixed vocabulary of
// remote-shell commands the engine runs against a router, translated into
// typed results. It knows nothing about policy, storage or scheduling.
package firmware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/fleet-rollout/orchestrator/internal/apperrors"
	"github.com/fleet-rollout/orchestrator/internal/sshclient"
)

// fwNewestSentinel is the value the on-device update agent reports in its
// "fw" field when there is nothing newer to offer.
const fwNewestSentinel = "Fw_newest"

const imagePath = "/tmp/firmware.img"

// Target is the connection info for one probe call.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Timeouts bounds each distinct remote operation; they differ widely in
// expected duration (a version check is instant, a flash image download
// is not).
type Timeouts struct {
	Connect     time.Duration
	Command     time.Duration
	Ping        time.Duration
	Download    time.Duration
	FlashSubmit time.Duration
}

// Probe runs the fixed command vocabulary against one router over SSH.
type Probe struct {
	client   *sshclient.Client
	timeouts Timeouts
}

func New(client *sshclient.Client, timeouts Timeouts) *Probe {
	return &Probe{client: client, timeouts: timeouts}
}

func (p *Probe) cfg(t Target) sshclient.Config {
	return sshclient.Config{
		Host: t.Host, Port: t.Port, Username: t.Username, Password: t.Password,
		ConnectTimeout: p.timeouts.Connect,
	}
}

// Ping runs a trivial command with a short timeout; true only on clean
// success.
func (p *Probe) Ping(ctx context.Context, t Target) bool {
	_, err := p.client.Exec(ctx, p.cfg(t), "echo ok", p.timeouts.Ping)
	return err == nil
}

// GetCurrentVersion reads the on-device version file, trimmed; an empty
// result coerces to "".
func (p *Probe) GetCurrentVersion(ctx context.Context, t Target) (string, error) {
	out, err := p.client.Exec(ctx, p.cfg(t), "cat /etc/version", p.timeouts.Command)
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

// fotaInfo is the JSON envelope the on-device update agent returns for the
// "get info" RPC.
type fotaInfo struct {
	Fw string `json:"fw"`
}

// Info carries the device's current version, the version its update agent
// has staged, and whether the two actually differ.
type Info struct {
	Current         string
	Available       string
	UpdateAvailable bool
}

// GetInfo reads the current version, then calls the on-device update agent
// to learn whether a newer version is staged and what it is.
func (p *Probe) GetInfo(ctx context.Context, t Target) (Info, error) {
	current, err := p.GetCurrentVersion(ctx, t)
	if err != nil {
		return Info{}, err
	}

	out, err := p.client.Exec(ctx, p.cfg(t), "rut_fota --get_info", p.timeouts.Command)
	if err != nil {
		return Info{}, err
	}

	var envelope fotaInfo
	if jsonErr := json.Unmarshal([]byte(out), &envelope); jsonErr != nil {
		return Info{Current: current}, nil
	}

	info := Info{Current: current}
	if envelope.Fw != "" && envelope.Fw != fwNewestSentinel {
		info.Available = envelope.Fw
		info.UpdateAvailable = info.Available != current
	}
	return info, nil
}

// ImagePresent reports whether a firmware image is already staged at
// imagePath, so a retried rollout doesn't re-download one that's already
// there.
func (p *Probe) ImagePresent(ctx context.Context, t Target) bool {
	out, err := p.client.Exec(ctx, p.cfg(t), "ls -la "+imagePath, p.timeouts.Command)
	return err == nil && strings.Contains(out, "firmware.img")
}

// DownloadImage invokes the vendor download command, then confirms the
// expected image path exists.
func (p *Probe) DownloadImage(ctx context.Context, t Target) error {
	if _, err := p.client.Exec(ctx, p.cfg(t), "rut_fota --download_fw", p.timeouts.Download); err != nil {
		return apperrors.Wrap(apperrors.DownloadFailed, err, "firmware download failed")
	}
	out, err := p.client.Exec(ctx, p.cfg(t), "ls -la "+imagePath, p.timeouts.Command)
	if err != nil || !strings.Contains(out, "firmware.img") {
		return apperrors.New(apperrors.DownloadFailed, "downloaded image not found at "+imagePath)
	}
	return nil
}

// VerifyImage runs the vendor "test image" command; success iff it exits
// cleanly.
func (p *Probe) VerifyImage(ctx context.Context, t Target) error {
	_, err := p.client.Exec(ctx, p.cfg(t), "sysupgrade -T "+imagePath, p.timeouts.Command)
	if err != nil {
		return apperrors.Wrap(apperrors.VerifyFailed, err, "firmware image verification failed")
	}
	return nil
}

// ApplyImage submits the staged image to the device's flash routine with
// the "preserve config" flag. The device reliably tears its SSH connection
// down as part of a successful flash; a ConnectionClosed result here is the
// expected shape of success, not a failure, and is reported as nil. Any
// other error is real.
func (p *Probe) ApplyImage(ctx context.Context, t Target) error {
	_, err := p.client.Exec(ctx, p.cfg(t), "sysupgrade -c "+imagePath, p.timeouts.FlashSubmit)
	if err != nil && apperrors.Kindf(err) == apperrors.ConnectionClosed {
		return nil
	}
	return err
}

// WaitForReboot polls GetCurrentVersion until it returns a non-empty
// version, up to attempts times spaced interval apart.
func (p *Probe) WaitForReboot(ctx context.Context, t Target, attempts int, interval time.Duration) (string, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
		version, err := p.GetCurrentVersion(ctx, t)
		if err == nil && version != "" {
			return version, nil
		}
		lastErr = err
	}
	return "", apperrors.Wrap(apperrors.RebootTimeout, lastErr, "router did not come back after reboot")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

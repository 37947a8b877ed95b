package workgate

import (
	"context"
	"fmt"

	"github.com/MrEthical07/workgate/device"
)

// TrackDevice records the device behind the current request for ac, using the IP
// and User-Agent attached with WithClientIP and WithUserAgent. A device seen for
// the first time triggers an asynchronous alert mail. It reports whether the
// device was new. Store failures are logged here, so callers may ignore them.
func (e *Engine) TrackDevice(ctx context.Context, ac AuthContext) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	now := e.now()
	fp := device.Parse(userAgentFromContext(ctx), clientIPFromContext(ctx))
	isNew, err := e.store.UpsertDevice(ctx, DeviceRecord{
		PrincipalID:       ac.PrincipalID,
		Kind:              ac.Kind,
		DeviceFingerprint: fp,
		LastSeen:          now,
		Current:           true,
		JTI:               ac.JTI,
		IssuedAt:          ac.IssuedAt,
		CreatedAt:         now,
	})
	if err != nil {
		e.metricInc(MetricInternalError)
		e.warn(ctx, "device tracking failed", "kind", ac.Kind, "principal_id", ac.PrincipalID, "error", err)
		return false, internalErr(err)
	}
	if !isNew {
		e.metricInc(MetricDeviceSeen)
		return false, nil
	}

	e.metricInc(MetricDeviceNew)
	e.emitAudit(ctx, auditEventDeviceNew, true, ac, "", nil, func() map[string]string {
		return map[string]string{
			"device":  fp.Name,
			"os":      fp.OS,
			"browser": fp.Browser,
		}
	})
	if e.config.Device.AlertNewDevice {
		e.alertNewDevice(ctx, ac, fp)
	}
	return true, nil
}

func (e *Engine) alertNewDevice(ctx context.Context, ac AuthContext, fp DeviceFingerprint) {
	p, err := e.store.FindPrincipalByID(ctx, ac.Kind, ac.PrincipalID)
	if err != nil {
		e.warn(ctx, "new device alert skipped", "kind", ac.Kind, "principal_id", ac.PrincipalID, "error", err)
		return
	}
	queued := e.notifier.Enqueue(Mail{
		Kind:    MailNewDevice,
		To:      p.Email,
		Subject: e.config.Device.AlertSubject,
		Body: fmt.Sprintf("A new sign-in was detected.\nDevice: %s\nOS: %s\nBrowser: %s %s\nIP: %s\nTime: %s",
			fp.Name, fp.OS, fp.Browser, fp.BrowserVersion, fp.IP, e.now().UTC().Format("2006-01-02 15:04:05 MST")),
	})
	if !queued {
		e.metricInc(MetricMailFailure)
		e.warn(ctx, "new device alert not queued", "kind", ac.Kind, "principal_id", ac.PrincipalID)
	}
}

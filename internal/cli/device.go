package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/gbm"
	"github.com/matzehuels/kmsgrab/pkg/kms"
	"github.com/matzehuels/kmsgrab/pkg/pipeline"
)

// device is an open DRM card plus its optional buffer-object layer.
type device struct {
	card *kms.Card
	gbm  *gbm.Device
}

// openDevice opens path, or the first card that opens when path is empty.
// The buffer-object layer is attached when available; without it only
// direct mapping works.
func openDevice(path string, logger *log.Logger) (*device, error) {
	card, err := openCard(path, logger)
	if err != nil {
		return nil, err
	}
	d := &device{card: card}

	g, err := gbm.Open(card.Fd())
	if err != nil {
		logger.Debug("buffer-object import unavailable", "err", err)
	} else {
		d.gbm = g
	}
	logger.Debug("opened device", "path", card.Path(), "gbm", d.gbm != nil)
	return d, nil
}

func openCard(path string, logger *log.Logger) (*kms.Card, error) {
	if path != "" {
		return kms.Open(path)
	}

	paths, err := kms.Cards("")
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeDeviceOpenFailed, err, "list DRM devices")
	}
	if len(paths) == 0 {
		return nil, kerrors.New(kerrors.ErrCodeDeviceOpenFailed, "no DRM devices match %s", kms.DefaultCardGlob)
	}

	var errs []error
	for _, p := range paths {
		card, err := kms.Open(p)
		if err == nil {
			return card, nil
		}
		logger.Debug("skipping device", "path", p, "err", err)
		errs = append(errs, err)
	}
	return nil, kerrors.Wrap(kerrors.ErrCodeDeviceOpenFailed, errors.Join(errs...), "no DRM device could be opened")
}

// objects returns the buffer-object layer, or nil when unavailable. The
// explicit nil keeps a nil *gbm.Device out of the interface.
func (d *device) objects() bufimport.BufferObjects {
	if d.gbm == nil {
		return nil
	}
	return d.gbm
}

// runner creates a pipeline runner bound to the device.
func (d *device) runner(logger *log.Logger) *pipeline.Runner {
	return pipeline.NewRunner(d.card, nil, d.objects(), logger)
}

// Close releases the buffer-object layer before the card it was created on.
func (d *device) Close() error {
	if d.gbm != nil {
		d.gbm.Close()
	}
	return d.card.Close()
}

// =============================================================================
// Probing
// =============================================================================

// cardInfo summarizes a DRM node for listing and selection.
type cardInfo struct {
	Path       string
	Err        error
	Connectors []kms.Connector
}

// Active returns the connector a capture would use, or nil.
func (ci cardInfo) Active() *kms.Connector {
	for i := range ci.Connectors {
		if ci.Connectors[i].IsConnected() && ci.Connectors[i].ModeCount > 0 {
			return &ci.Connectors[i]
		}
	}
	return nil
}

// Summary lists the connectors as "NAME state" pairs.
func (ci cardInfo) Summary() string {
	if ci.Err != nil {
		return kerrors.UserMessage(ci.Err)
	}
	if len(ci.Connectors) == 0 {
		return "no connectors"
	}
	parts := make([]string, len(ci.Connectors))
	for i, conn := range ci.Connectors {
		parts[i] = fmt.Sprintf("%s %s", conn.Name(), connectionName(conn.Connection))
	}
	return strings.Join(parts, ", ")
}

func connectionName(state uint32) string {
	switch state {
	case kms.Connected:
		return "connected"
	case kms.Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// probeCards lists every card matching pattern with its connectors. Cards
// that fail to open are reported, not skipped.
func probeCards(pattern string) ([]cardInfo, error) {
	paths, err := kms.Cards(pattern)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeDeviceOpenFailed, err, "list DRM devices")
	}
	infos := make([]cardInfo, len(paths))
	for i, p := range paths {
		infos[i] = probeCard(p)
	}
	return infos, nil
}

func probeCard(path string) cardInfo {
	info := cardInfo{Path: path}
	card, err := kms.Open(path)
	if err != nil {
		info.Err = err
		return info
	}
	defer card.Close()

	ids, err := card.ConnectorIDs()
	if err != nil {
		info.Err = kerrors.Wrap(kerrors.ErrCodeNoActiveOutput, err, "list connectors")
		return info
	}
	for _, id := range ids {
		conn, err := card.Connector(id)
		if err != nil {
			continue
		}
		info.Connectors = append(info.Connectors, *conn)
	}
	return info
}

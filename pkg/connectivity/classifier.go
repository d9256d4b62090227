package connectivity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jackpal/gateway"
	psnet "github.com/shirou/gopsutil/v4/net"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

// DefaultCheckTimeout bounds a single captive-portal request.
const DefaultCheckTimeout = 5 * time.Second

// Endpoint is a captive-portal detection URL. A response matches when it is
// not a redirect and either has ExpectStatus (when non-zero) or a body
// containing ExpectBody.
type Endpoint struct {
	URL          string
	ExpectStatus int
	ExpectBody   string
}

// DefaultEndpoints are the public detection URLs used by Apple and Android.
var DefaultEndpoints = []Endpoint{
	{URL: "http://captive.apple.com/hotspot-detect.html", ExpectBody: "Success"},
	{URL: "http://connectivitycheck.gstatic.com/generate_204", ExpectStatus: http.StatusNoContent},
}

// NetClassifierConfig configures a NetClassifier. Nil function fields use
// gopsutil and jackpal/gateway.
type NetClassifierConfig struct {
	// CaptiveCheck enables the HTTP probe. Without it a path with a usable
	// interface and a default gateway is reported as Satisfied.
	CaptiveCheck bool
	CheckTimeout time.Duration
	Endpoints    []Endpoint

	Interfaces func(ctx context.Context) ([]psnet.InterfaceStat, error)
	Gateway    func() (net.IP, error)
	Client     *http.Client
}

// NetClassifier derives a ConnectivityState from the host's interfaces, its
// default route and, optionally, a captive-portal check.
type NetClassifier struct {
	cfg    NetClassifierConfig
	logger *slog.Logger
}

// NewNetClassifier creates a classifier, filling unset fields with defaults.
func NewNetClassifier(cfg NetClassifierConfig, logger *slog.Logger) *NetClassifier {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = DefaultEndpoints
	}
	if cfg.Interfaces == nil {
		cfg.Interfaces = func(ctx context.Context) ([]psnet.InterfaceStat, error) {
			return psnet.InterfacesWithContext(ctx)
		}
	}
	if cfg.Gateway == nil {
		cfg.Gateway = gateway.DiscoverGateway
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NetClassifier{cfg: cfg, logger: logger}
}

// Classify runs the checks in order and stops at the first one that decides
// the state.
func (c *NetClassifier) Classify(ctx context.Context) quality.ConnectivityState {
	ifaces, err := c.cfg.Interfaces(ctx)
	if err != nil {
		c.logger.Debug("interface listing failed", "error", err)
	} else if !hasUsableInterface(ifaces) {
		return quality.StateUnsatisfied
	}

	gw, err := c.cfg.Gateway()
	if err != nil || gw == nil {
		c.logger.Debug("no default gateway", "error", err)
		return quality.StateUnsatisfied
	}

	if !c.cfg.CaptiveCheck {
		return quality.StateSatisfied
	}
	return c.checkCaptive(ctx)
}

// checkCaptive asks each endpoint in turn. The first endpoint that answers
// decides; if none answers the path is treated as offline.
func (c *NetClassifier) checkCaptive(ctx context.Context) quality.ConnectivityState {
	for _, ep := range c.cfg.Endpoints {
		captive, err := c.probeEndpoint(ctx, ep)
		if err != nil {
			c.logger.Debug("captive check failed", "url", ep.URL, "error", err)
			continue
		}
		if captive {
			return quality.StateRequiresConnection
		}
		return quality.StateSatisfied
	}
	return quality.StateUnsatisfied
}

func (c *NetClassifier) probeEndpoint(ctx context.Context, ep Endpoint) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return true, nil
	}
	if ep.ExpectStatus != 0 {
		return resp.StatusCode != ep.ExpectStatus, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false, fmt.Errorf("read body: %w", err)
	}
	return !strings.Contains(string(body), ep.ExpectBody), nil
}

// hasUsableInterface reports whether any interface is up, not loopback and
// carries an address other than a link-local one.
func hasUsableInterface(ifaces []psnet.InterfaceStat) bool {
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			return true
		}
	}
	return false
}

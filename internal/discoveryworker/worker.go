// Package discoveryworker is the local agent: it periodically reads the host's ARP table and
// registers every complete neighbour entry through the registration service.
package discoveryworker

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hivemind/core-go/internal/metrics"
	"hivemind/core-go/internal/plugin"
	"hivemind/core-go/internal/registration"
)

// Registrar is the registration surface the agent reports into. *registration.Service satisfies it.
type Registrar interface {
	Register(ctx context.Context, attrs plugin.Attributes) (registration.Result, error)
}

type Worker struct {
	log          zerolog.Logger
	registrar    Registrar
	pollInterval time.Duration
	arpTablePath string
	scope        *netip.Prefix
	metrics      *metrics.Metrics
}

type Options struct {
	PollInterval time.Duration
	ARPTablePath string
	// Scope, when set, limits reported neighbours to one prefix.
	Scope *netip.Prefix
}

func New(log zerolog.Logger, registrar Registrar, opts Options, m *metrics.Metrics) *Worker {
	pi := opts.PollInterval
	if pi <= 0 {
		pi = time.Minute
	}
	arpPath := opts.ARPTablePath
	if strings.TrimSpace(arpPath) == "" {
		arpPath = "/proc/net/arp"
	}
	var scope *netip.Prefix
	if opts.Scope != nil {
		p := opts.Scope.Masked()
		scope = &p
	}

	return &Worker{
		log:          log,
		registrar:    registrar,
		pollInterval: pi,
		arpTablePath: arpPath,
		scope:        scope,
		metrics:      m,
	}
}

// Run scans immediately, then once per poll interval, backing off after failed scans.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.registrar == nil {
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		res, err := w.runOnce(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			consecutiveFailures++
			w.metrics.IncAgentScan("error")
			w.log.Warn().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("arp scan failed")
		default:
			consecutiveFailures = 0
			w.metrics.IncAgentScan("ok")
			w.log.Debug().
				Int("entries", res.Entries).
				Int("created", res.Created).
				Int("matched", res.Matched).
				Int("rejected", res.Rejected).
				Msg("arp scan complete")
		}

		timer.Reset(backoffDuration(w.pollInterval, consecutiveFailures))
	}
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if failures <= 0 {
		return base
	}

	// base * 2^failures, capped at ten intervals.
	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if maxD := 10 * base; d > maxD {
		return maxD
	}
	return d
}

type scanResult struct {
	Entries  int
	Created  int
	Matched  int
	Rejected int
}

// runOnce registers one report per neighbour MAC. A rejected report is skipped; any other
// registration error aborts the scan.
func (w *Worker) runOnce(ctx context.Context) (scanResult, error) {
	var result scanResult

	content, err := os.ReadFile(w.arpTablePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, err
	}

	entries, err := parseProcNetARP(string(content))
	if err != nil {
		return result, err
	}

	for _, n := range groupByMAC(entries, w.scope) {
		result.Entries++

		ips := make([]any, 0, len(n.IPs))
		for _, ip := range n.IPs {
			ips = append(ips, ip)
		}
		res, err := w.registrar.Register(ctx, plugin.Attributes{
			plugin.KeyMACs: []any{n.MAC},
			plugin.KeyIPs:  ips,
		})
		if errors.Is(err, registration.ErrValidation) {
			result.Rejected++
			w.log.Debug().Err(err).Str("mac", n.MAC).Msg("arp neighbour rejected")
			continue
		}
		if err != nil {
			return result, err
		}
		if res.Outcome == registration.OutcomeCreated {
			result.Created++
			w.log.Info().Str("mac", n.MAC).Str("device_id", res.Device.ID).Msg("arp neighbour registered")
		} else {
			result.Matched++
		}
	}

	return result, nil
}

type arpEntry struct {
	IP  netip.Addr
	MAC string
}

type neighbour struct {
	MAC string
	IPs []string
}

// groupByMAC folds entries sharing a MAC into one neighbour, sorted by MAC with IPs in table order.
func groupByMAC(entries []arpEntry, scope *netip.Prefix) []neighbour {
	byMAC := make(map[string]*neighbour)
	for _, e := range entries {
		if scope != nil && !scope.Contains(e.IP) {
			continue
		}
		n, ok := byMAC[e.MAC]
		if !ok {
			n = &neighbour{MAC: e.MAC}
			byMAC[e.MAC] = n
		}
		ip := e.IP.String()
		dup := false
		for _, existing := range n.IPs {
			if existing == ip {
				dup = true
				break
			}
		}
		if !dup {
			n.IPs = append(n.IPs, ip)
		}
	}

	out := make([]neighbour, 0, len(byMAC))
	for _, n := range byMAC {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

func parseProcNetARP(content string) ([]arpEntry, error) {
	s := bufio.NewScanner(strings.NewReader(content))

	// Header line: "IP address       HW type     Flags       HW address            Mask     Device"
	if !s.Scan() {
		return nil, nil
	}

	var out []arpEntry
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}

		ipStr := fields[0]
		flagsStr := fields[2]
		macStr := strings.ToLower(fields[3])

		// Require a "complete" ARP entry.
		flags, err := strconv.ParseInt(flagsStr, 0, 64)
		if err != nil || flags&0x2 == 0 {
			continue
		}

		if macStr == "00:00:00:00:00:00" {
			continue
		}
		if _, err := net.ParseMAC(macStr); err != nil {
			continue
		}

		ip, err := netip.ParseAddr(ipStr)
		if err != nil {
			continue
		}
		out = append(out, arpEntry{IP: ip, MAC: macStr})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

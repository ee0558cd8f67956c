package rdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Candidate holds a name discovered for an address.
type Candidate struct {
	Name    string
	Address string
	Source  string // always "reverse_dns"
}

type Config struct {
	// Server is a host:port DNS server. Empty means the first nameserver in /etc/resolv.conf.
	Server  string
	Timeout time.Duration
}

// Resolver issues PTR queries against a single DNS server.
type Resolver struct {
	server string
	client *dns.Client
}

func New(cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	server := strings.TrimSpace(cfg.Server)
	if server == "" {
		server = systemServer()
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: cfg.Timeout},
	}
}

func systemServer() string {
	cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cc.Servers) == 0 {
		return "127.0.0.1:53"
	}
	return net.JoinHostPort(cc.Servers[0], cc.Port)
}

// LookupAddr returns PTR names for a single address, deduplicated case-insensitively.
func (r *Resolver) LookupAddr(ctx context.Context, address string) ([]Candidate, error) {
	if r == nil {
		return nil, errors.New("rdns resolver is nil")
	}

	arpa, err := dns.ReverseAddr(address)
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("ptr %s: %s", address, dns.RcodeToString[in.Rcode])
	}
	return candidatesFromAnswer(address, in.Answer), nil
}

func candidatesFromAnswer(address string, answer []dns.RR) []Candidate {
	out := make([]Candidate, 0, len(answer))
	seen := make(map[string]struct{}, len(answer))
	for _, rr := range answer {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		name := strings.TrimSpace(strings.TrimSuffix(ptr.Ptr, "."))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Candidate{
			Name:    name,
			Address: address,
			Source:  "reverse_dns",
		})
	}
	return out
}

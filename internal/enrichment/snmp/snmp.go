package snmp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Config describes how registration-time SNMP probes reach a device.
type Config struct {
	Community string
	Version   string // "2c" (default) | "1" | "3" (unsupported here)
	Port      uint16
	Timeout   time.Duration
	Retries   int
}

// Target represents a device that can be queried via SNMP.
type Target struct {
	Address string
}

type SystemInfo struct {
	SysName     *string
	SysDescr    *string
	SysObjectID *string
	SysContact  *string
	SysLocation *string
}

// Client wraps a minimal SNMPv2c system-group reader.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 900 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Client{cfg: cfg}
}

func (c *Client) connect(ctx context.Context, target Target) (*gosnmp.GoSNMP, error) {
	var snmpVersion gosnmp.SnmpVersion
	switch strings.ToLower(strings.TrimSpace(c.cfg.Version)) {
	case "2c", "v2c", "":
		snmpVersion = gosnmp.Version2c
	case "1", "v1":
		snmpVersion = gosnmp.Version1
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", c.cfg.Version)
	}

	s := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    target.Address,
		Port:      c.cfg.Port,
		Community: c.cfg.Community,
		Version:   snmpVersion,
		Timeout:   c.cfg.Timeout,
		Retries:   c.cfg.Retries,
	}
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	oidSysDescr0    = "1.3.6.1.2.1.1.1.0"
	oidSysObjectID0 = "1.3.6.1.2.1.1.2.0"
	oidSysContact0  = "1.3.6.1.2.1.1.4.0"
	oidSysName0     = "1.3.6.1.2.1.1.5.0"
	oidSysLocation0 = "1.3.6.1.2.1.1.6.0"
)

func pduString(pdu gosnmp.SnmpPDU) (*string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, true
		}
		return &s, true
	case []byte:
		s := strings.TrimSpace(string(v))
		if s == "" {
			return nil, true
		}
		return &s, true
	default:
		return nil, false
	}
}

func (c *Client) GetSystem(ctx context.Context, target Target) (SystemInfo, error) {
	if c == nil {
		return SystemInfo{}, errors.New("snmp client is nil")
	}

	s, err := c.connect(ctx, target)
	if err != nil {
		return SystemInfo{}, err
	}
	defer s.Conn.Close()

	pkt, err := s.Get([]string{oidSysName0, oidSysDescr0, oidSysObjectID0, oidSysContact0, oidSysLocation0})
	if err != nil {
		return SystemInfo{}, err
	}
	return systemFromPDUs(pkt.Variables), nil
}

func systemFromPDUs(vars []gosnmp.SnmpPDU) SystemInfo {
	var out SystemInfo
	for _, v := range vars {
		switch strings.TrimPrefix(v.Name, ".") {
		case oidSysName0:
			out.SysName, _ = pduString(v)
		case oidSysDescr0:
			out.SysDescr, _ = pduString(v)
		case oidSysObjectID0:
			out.SysObjectID, _ = pduString(v)
		case oidSysContact0:
			out.SysContact, _ = pduString(v)
		case oidSysLocation0:
			out.SysLocation, _ = pduString(v)
		}
	}
	return out
}

package plugin

import (
	"context"

	"github.com/rs/zerolog"

	"hivemind/core-go/internal/enrichment/snmp"
	"hivemind/core-go/internal/naming"
)

const (
	KindSNMP = "snmp"

	KeySerial      = "serial"
	KeySysName     = "sys_name"
	KeySysDescr    = "sys_descr"
	KeySysObjectID = "sys_object_id"
)

// SystemReader reads the SNMP system group of a device.
type SystemReader interface {
	GetSystem(ctx context.Context, target snmp.Target) (snmp.SystemInfo, error)
}

// SNMP identifies managed devices by their reported serial and, when a reader is configured,
// enriches details with the system group of the first reported IP.
type SNMP struct {
	*Characteristics
	reader SystemReader
	log    zerolog.Logger
}

func NewSNMP(reader SystemReader, reverse AddressResolver, log zerolog.Logger) *SNMP {
	return &SNMP{
		Characteristics: NewCharacteristics(KindSNMP, WithIDKey(KeySerial), WithReverseDNS(reverse), WithLogger(log)),
		reader:          reader,
		log:             log,
	}
}

func (s *SNMP) Details(ctx context.Context, attrs Attributes) (map[string]string, error) {
	out, err := s.Characteristics.Details(ctx, attrs)
	if err != nil {
		return nil, err
	}

	ips := attrs.Strings(KeyIPs)
	if s.reader == nil || len(ips) == 0 {
		return out, nil
	}

	info, err := s.reader.GetSystem(ctx, snmp.Target{Address: ips[0]})
	if err != nil {
		s.log.Warn().Err(err).Str("ip", ips[0]).Msg("snmp system probe failed")
		return out, nil
	}

	// Agent-reported values win over probed ones.
	setIfAbsent(out, KeySysName, info.SysName)
	setIfAbsent(out, KeySysDescr, info.SysDescr)
	setIfAbsent(out, KeySysObjectID, info.SysObjectID)
	return out, nil
}

func (s *SNMP) DefaultName(ctx context.Context, attrs Attributes) (string, bool) {
	cands := s.candidates(ctx, attrs)
	if n := attrs.String(KeySysName); n != "" {
		cands = append(cands, naming.Candidate{Name: n, Source: naming.SourceSNMP})
	}
	return naming.ChooseBestDisplayName(cands)
}

func setIfAbsent(m map[string]string, key string, v *string) {
	if v == nil || *v == "" {
		return
	}
	if _, ok := m[key]; ok {
		return
	}
	m[key] = *v
}

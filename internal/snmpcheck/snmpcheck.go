// Package snmpcheck verifies an SNMP v2c community against a live device
// before it is written into the monitoring configuration.
package snmpcheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"
)

// sysDescrOID is SNMPv2-MIB::sysDescr.0
const sysDescrOID = "1.3.6.1.2.1.1.1.0"

// Result describes a successful probe
type Result struct {
	Target   string
	SysDescr string
}

// Prober sends SNMP v2c GET requests
type Prober struct {
	Port    uint16
	Timeout time.Duration
	Retries int
}

// New creates a prober with the given settings, defaulting the port to 161
func New(port int, timeout time.Duration, retries int) *Prober {
	if port <= 0 || port > 65535 {
		port = 161
	}
	return &Prober{
		Port:    uint16(port),
		Timeout: timeout,
		Retries: retries,
	}
}

// Probe reads sysDescr from target with community. An error means the
// device did not answer with this community.
func (p *Prober) Probe(ctx context.Context, target, community string) (*Result, error) {
	if target == "" {
		return nil, errors.New("snmp target is required")
	}
	if community == "" {
		return nil, errors.New("snmp community is required")
	}

	g := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    target,
		Port:      p.Port,
		Version:   gosnmp.Version2c,
		Community: community,
		Timeout:   p.Timeout,
		Retries:   p.Retries,
	}

	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("SNMP connection failed: %w", err)
	}
	defer g.Conn.Close()

	result, err := g.Get([]string{sysDescrOID})
	if err != nil {
		return nil, fmt.Errorf("SNMP Get request failed: %w", err)
	}
	if result.Error != gosnmp.NoError {
		return nil, fmt.Errorf("SNMP agent returned %s", result.Error)
	}

	// Extract sysDescr value
	var sysDescr string
	if len(result.Variables) > 0 {
		v := result.Variables[0]
		switch v.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
			return nil, fmt.Errorf("SNMP agent has no sysDescr")
		case gosnmp.OctetString:
			if b, ok := v.Value.([]byte); ok {
				sysDescr = string(b)
			}
		default:
			sysDescr = fmt.Sprintf("%v", v.Value)
		}
	}

	return &Result{
		Target:   target,
		SysDescr: sysDescr,
	}, nil
}

package snmpcheck

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
)

// startAgent answers sysDescr GETs carrying community on a local UDP port
func startAgent(t *testing.T, community, sysDescr string) int {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 4096)
		decoder := &gosnmp.GoSNMP{Version: gosnmp.Version2c}
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req, err := decoder.SnmpDecodePacket(buf[:n])
			if err != nil || req.Community != community {
				continue
			}
			resp := &gosnmp.SnmpPacket{
				Version:   gosnmp.Version2c,
				Community: req.Community,
				PDUType:   gosnmp.GetResponse,
				RequestID: req.RequestID,
				Variables: []gosnmp.SnmpPDU{{
					Name:  "." + sysDescrOID,
					Type:  gosnmp.OctetString,
					Value: sysDescr,
				}},
			}
			out, err := resp.MarshalMsg()
			if err != nil {
				continue
			}
			conn.WriteTo(out, addr)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestProbe(t *testing.T) {
	port := startAgent(t, "public", "Linux web01 6.1.0")

	t.Run("matching community", func(t *testing.T) {
		p := New(port, time.Second, 0)
		res, err := p.Probe(context.Background(), "127.0.0.1", "public")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.SysDescr != "Linux web01 6.1.0" {
			t.Errorf("unexpected sysDescr %q", res.SysDescr)
		}
		if res.Target != "127.0.0.1" {
			t.Errorf("unexpected target %q", res.Target)
		}
	})

	t.Run("wrong community times out", func(t *testing.T) {
		p := New(port, 200*time.Millisecond, 0)
		_, err := p.Probe(context.Background(), "127.0.0.1", "private")
		if err == nil {
			t.Fatal("expected error for wrong community")
		}
		if !strings.Contains(err.Error(), "SNMP Get request failed") {
			t.Errorf("unexpected error %v", err)
		}
	})
}

func TestProbeRequiresInput(t *testing.T) {
	p := New(0, time.Second, 0)
	if p.Port != 161 {
		t.Errorf("expected default port 161, got %d", p.Port)
	}
	if wide := New(65536+162, time.Second, 0); wide.Port != 161 {
		t.Errorf("out of range port must not wrap, got %d", wide.Port)
	}

	tests := []struct {
		name      string
		target    string
		community string
		errorMsg  string
	}{
		{"missing target", "", "public", "target is required"},
		{"missing community", "10.0.0.1", "", "community is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Probe(context.Background(), tt.target, tt.community)
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %v", tt.errorMsg, err)
			}
		})
	}
}

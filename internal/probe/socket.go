// SPDX-License-Identifier: MIT
package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/idna"

	"github.com/netpulse-io/netpulse/internal/model"
)

// socket opens a TCP connection and closes it on connect. Success iff the
// connect completes within the deadline.
func (d *Dispatcher) socket(ctx context.Context, spec *model.SocketProbe) model.ProbeResult {
	host := spec.Host
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	addr := net.JoinHostPort(host, strconv.Itoa(spec.Port))

	start := time.Now()
	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return measured(classifyNetErr(err), start, err)
	}
	_ = conn.Close()

	return model.ProbeResult{
		Success:   true,
		LatencyMS: model.LatencyMSPtr(time.Since(start).Milliseconds()),
		Details:   map[string]string{"addr": addr},
	}
}

// name resolves a hostname for the configured record kind. Success iff at
// least one record comes back within the deadline.
func (d *Dispatcher) name(ctx context.Context, spec *model.NameProbe) model.ProbeResult {
	start := time.Now()
	count, err := d.resolve(ctx, spec)
	if err != nil {
		class := classifyNetErr(err)
		if class == model.ClassSocket {
			class = model.ClassNameResolution
		}
		return measured(class, start, err)
	}
	if count == 0 {
		return measured(model.ClassNameResolution, start, fmt.Errorf("no %s records for %q", recordType(spec), spec.Hostname))
	}
	return model.ProbeResult{
		Success:   true,
		LatencyMS: model.LatencyMSPtr(time.Since(start).Milliseconds()),
		Details:   map[string]string{"records": strconv.Itoa(count), "type": recordType(spec)},
	}
}

func recordType(spec *model.NameProbe) string {
	if spec.RecordType == "" {
		return "A"
	}
	return spec.RecordType
}

func (d *Dispatcher) resolve(ctx context.Context, spec *model.NameProbe) (int, error) {
	host := spec.Hostname
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	switch recordType(spec) {
	case "A":
		addrs, err := d.resolver.LookupIP(ctx, "ip4", host)
		return len(addrs), err
	case "AAAA":
		addrs, err := d.resolver.LookupIP(ctx, "ip6", host)
		return len(addrs), err
	case "CNAME":
		cname, err := d.resolver.LookupCNAME(ctx, host)
		if err != nil {
			return 0, err
		}
		if cname == "" {
			return 0, nil
		}
		return 1, nil
	case "MX":
		records, err := d.resolver.LookupMX(ctx, host)
		return len(records), err
	case "TXT":
		records, err := d.resolver.LookupTXT(ctx, host)
		return len(records), err
	case "NS":
		records, err := d.resolver.LookupNS(ctx, host)
		return len(records), err
	default:
		addrs, err := d.resolver.LookupHost(ctx, host)
		return len(addrs), err
	}
}

// SPDX-License-Identifier: MIT

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestProbeSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ProbeSpec
		wantErr string
	}{
		{
			name: "valid web probe",
			spec: ProbeSpec{Variant: ProbeWeb, Web: &WebProbe{URL: "https://example.com/health"}},
		},
		{
			name:    "web probe missing payload",
			spec:    ProbeSpec{Variant: ProbeWeb},
			wantErr: "web payload",
		},
		{
			name:    "web probe missing url",
			spec:    ProbeSpec{Variant: ProbeWeb, Web: &WebProbe{}},
			wantErr: "url",
		},
		{
			name:    "web probe bad regex",
			spec:    ProbeSpec{Variant: ProbeWeb, Web: &WebProbe{URL: "https://x", BodyRegex: "("}},
			wantErr: "body regex",
		},
		{
			name:    "web probe half status range",
			spec:    ProbeSpec{Variant: ProbeWeb, Web: &WebProbe{URL: "https://x", StatusMin: intPtr(200)}},
			wantErr: "both bounds",
		},
		{
			name: "valid socket probe",
			spec: ProbeSpec{Variant: ProbeSocket, Socket: &SocketProbe{Host: "db.internal", Port: 5432}},
		},
		{
			name:    "socket probe port out of range",
			spec:    ProbeSpec{Variant: ProbeSocket, Socket: &SocketProbe{Host: "db.internal", Port: 70000}},
			wantErr: "port out of range",
		},
		{
			name: "valid name probe",
			spec: ProbeSpec{Variant: ProbeName, Name: &NameProbe{Hostname: "example.com"}},
		},
		{
			name:    "name probe missing hostname",
			spec:    ProbeSpec{Variant: ProbeName, Name: &NameProbe{}},
			wantErr: "hostname",
		},
		{
			name: "valid task probe",
			spec: ProbeSpec{Variant: ProbeTask, Task: &TaskProbe{Command: "ping -c1 gw"}},
		},
		{
			name: "valid host task probe",
			spec: ProbeSpec{Variant: ProbeHostTask, HostTask: &HostTaskProbe{Label: "check-vpn"}},
		},
		{
			name:    "invalid variant",
			spec:    ProbeSpec{Variant: ProbeVariant("icmp")},
			wantErr: "invalid probe variant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChannel_Validate(t *testing.T) {
	valid := Channel{
		ID:    "office-wifi",
		Label: "Office WiFi",
		Probe: ProbeSpec{Variant: ProbeWeb, Web: &WebProbe{URL: "https://gw.office/health"}},
	}

	t.Run("valid channel", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		c := valid
		c.ID = ""
		assert.Error(t, c.Validate())
	})

	t.Run("zero interval rejected", func(t *testing.T) {
		c := valid
		c.IntervalSec = intPtr(0)
		assert.Error(t, c.Validate())
	})

	t.Run("jitter over 100 rejected", func(t *testing.T) {
		c := valid
		c.JitterPct = intPtr(150)
		assert.Error(t, c.Validate())
	})

	t.Run("bad priority rejected", func(t *testing.T) {
		c := valid
		c.Priority = Priority("urgent")
		assert.Error(t, c.Validate())
	})
}

func TestProbeSpec_Target(t *testing.T) {
	tests := []struct {
		name string
		spec ProbeSpec
		want string
	}{
		{"web", ProbeSpec{Variant: ProbeWeb, Web: &WebProbe{URL: "https://example.com"}}, "https://example.com"},
		{"socket", ProbeSpec{Variant: ProbeSocket, Socket: &SocketProbe{Host: "db", Port: 5432}}, "db:5432"},
		{"name", ProbeSpec{Variant: ProbeName, Name: &NameProbe{Hostname: "example.com"}}, "example.com"},
		{"host task", ProbeSpec{Variant: ProbeHostTask, HostTask: &HostTaskProbe{Label: "vpn"}}, "vpn"},
		{"missing payload", ProbeSpec{Variant: ProbeWeb}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Target())
		})
	}
}

func TestGuard_Validate(t *testing.T) {
	tests := []struct {
		name    string
		guard   Guard
		wantErr bool
	}{
		{"valid interface guard", Guard{ID: "vpn", Variant: GuardInterfaceUp, Interface: "wg0"}, false},
		{"valid resolver guard", Guard{ID: "dns", Variant: GuardNameResolvable, Hostname: "corp.local"}, false},
		{"interface guard without interface", Guard{ID: "vpn", Variant: GuardInterfaceUp}, true},
		{"resolver guard without hostname", Guard{ID: "dns", Variant: GuardNameResolvable}, true},
		{"unknown variant", Guard{ID: "x", Variant: GuardVariant("ping")}, true},
		{"missing id", Guard{Variant: GuardInterfaceUp, Interface: "eth0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.guard.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// SPDX-License-Identifier: MIT
package model

import (
	"fmt"
	"regexp"
)

// ProbeVariant selects the wire mechanism a channel is probed with.
type ProbeVariant string

// Probe variant constants.
const (
	// ProbeWeb issues an HTTP(S) request and checks the response.
	ProbeWeb ProbeVariant = "web"

	// ProbeSocket opens a TCP connection and closes it on connect.
	ProbeSocket ProbeVariant = "socket"

	// ProbeName resolves a hostname for a given record kind.
	ProbeName ProbeVariant = "name"

	// ProbeTask executes a shell command and maps exit code 0 to success.
	ProbeTask ProbeVariant = "task"

	// ProbeHostTask dispatches a named task to the embedding host.
	ProbeHostTask ProbeVariant = "host-task"
)

// String implements fmt.Stringer.
func (v ProbeVariant) String() string {
	return string(v)
}

// IsValid checks whether the probe variant is valid.
func (v ProbeVariant) IsValid() bool {
	switch v {
	case ProbeWeb, ProbeSocket, ProbeName, ProbeTask, ProbeHostTask:
		return true
	default:
		return false
	}
}

// AllProbeVariants returns all defined probe variants.
func AllProbeVariants() []ProbeVariant {
	return []ProbeVariant{ProbeWeb, ProbeSocket, ProbeName, ProbeTask, ProbeHostTask}
}

// HeaderRule requires a response header to carry an exact value.
type HeaderRule struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// WebProbe describes an HTTP(S) expectation check. With no rules set, any
// 2xx-3xx status is success.
type WebProbe struct {
	URL string `json:"url" yaml:"url"`

	// ExpectStatus lists acceptable status codes; membership wins over range.
	ExpectStatus []int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	// StatusMin/StatusMax accept a closed status range.
	StatusMin *int `json:"statusMin,omitempty" yaml:"statusMin,omitempty"`
	StatusMax *int `json:"statusMax,omitempty" yaml:"statusMax,omitempty"`

	// RequiredHeader must be present with the exact value.
	RequiredHeader *HeaderRule `json:"requiredHeader,omitempty" yaml:"requiredHeader,omitempty"`

	// BodyRegex must match the response body. Forces a GET request.
	BodyRegex string `json:"bodyRegex,omitempty" yaml:"bodyRegex,omitempty"`

	// AuthReachable treats 401/403 as reachable.
	AuthReachable bool `json:"authReachable,omitempty" yaml:"authReachable,omitempty"`
}

// SocketProbe describes a TCP connect check.
type SocketProbe struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// NameProbe describes a DNS lookup check. RecordType defaults to "A".
type NameProbe struct {
	Hostname   string `json:"hostname" yaml:"hostname"`
	RecordType string `json:"recordType,omitempty" yaml:"recordType,omitempty"`
}

// TaskProbe describes a local shell command check. Shell selects the
// interpreter; empty picks the platform default.
type TaskProbe struct {
	Command string `json:"command" yaml:"command"`
	Shell   string `json:"shell,omitempty" yaml:"shell,omitempty"`
}

// HostTaskProbe names a task executed by the embedding host.
type HostTaskProbe struct {
	Label string `json:"label" yaml:"label"`
}

// ProbeSpec is the tagged variant carried by a channel definition. Exactly
// the payload matching Variant must be set.
type ProbeSpec struct {
	Variant  ProbeVariant   `json:"variant" yaml:"variant"`
	Web      *WebProbe      `json:"web,omitempty" yaml:"web,omitempty"`
	Socket   *SocketProbe   `json:"socket,omitempty" yaml:"socket,omitempty"`
	Name     *NameProbe     `json:"name,omitempty" yaml:"name,omitempty"`
	Task     *TaskProbe     `json:"task,omitempty" yaml:"task,omitempty"`
	HostTask *HostTaskProbe `json:"hostTask,omitempty" yaml:"hostTask,omitempty"`
}

// Target returns a short human-readable description of the probe target.
func (p ProbeSpec) Target() string {
	switch p.Variant {
	case ProbeWeb:
		if p.Web != nil {
			return p.Web.URL
		}
	case ProbeSocket:
		if p.Socket != nil {
			return fmt.Sprintf("%s:%d", p.Socket.Host, p.Socket.Port)
		}
	case ProbeName:
		if p.Name != nil {
			return p.Name.Hostname
		}
	case ProbeTask:
		if p.Task != nil {
			return p.Task.Command
		}
	case ProbeHostTask:
		if p.HostTask != nil {
			return p.HostTask.Label
		}
	}
	return ""
}

// Validate checks the variant tag and its payload.
func (p ProbeSpec) Validate() error {
	if !p.Variant.IsValid() {
		return fmt.Errorf("invalid probe variant: %q", p.Variant)
	}
	switch p.Variant {
	case ProbeWeb:
		if p.Web == nil {
			return fmt.Errorf("web probe requires a web payload")
		}
		if p.Web.URL == "" {
			return fmt.Errorf("web probe requires a url")
		}
		if p.Web.BodyRegex != "" {
			if _, err := regexp.Compile(p.Web.BodyRegex); err != nil {
				return fmt.Errorf("web probe body regex: %w", err)
			}
		}
		if (p.Web.StatusMin == nil) != (p.Web.StatusMax == nil) {
			return fmt.Errorf("web probe status range requires both bounds")
		}
	case ProbeSocket:
		if p.Socket == nil {
			return fmt.Errorf("socket probe requires a socket payload")
		}
		if p.Socket.Host == "" {
			return fmt.Errorf("socket probe requires a host")
		}
		if p.Socket.Port < 1 || p.Socket.Port > 65535 {
			return fmt.Errorf("socket probe port out of range: %d", p.Socket.Port)
		}
	case ProbeName:
		if p.Name == nil {
			return fmt.Errorf("name probe requires a name payload")
		}
		if p.Name.Hostname == "" {
			return fmt.Errorf("name probe requires a hostname")
		}
	case ProbeTask:
		if p.Task == nil {
			return fmt.Errorf("task probe requires a task payload")
		}
		if p.Task.Command == "" {
			return fmt.Errorf("task probe requires a command")
		}
	case ProbeHostTask:
		if p.HostTask == nil {
			return fmt.Errorf("host-task probe requires a hostTask payload")
		}
		if p.HostTask.Label == "" {
			return fmt.Errorf("host-task probe requires a label")
		}
	}
	return nil
}

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Provider string

const (
	ProviderRsync         Provider = "rsync"
	ProviderCommand       Provider = "command"
	ProviderTwoStageRsync Provider = "two-stage-rsync"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderRsync, ProviderCommand, ProviderTwoStageRsync:
		return true
	default:
		return false
	}
}

// IsRsync reports whether the provider speaks the rsync protocol.
func (p Provider) IsRsync() bool {
	return strings.Contains(string(p), "rsync")
}

const (
	DefaultConcurrent = 3
	DefaultInterval   = 1440
	DefaultImage      = "ztelliot/tunasync_worker:rsync"
	DefaultDataSize   = "1Ti"
)

// Options accepts either a JSON list or a single whitespace separated string.
type Options []string

func (o *Options) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*o = list
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("options must be a string or a list of strings: %w", err)
	}

	*o = strings.Fields(s)
	return nil
}

type JobSpec struct {
	Name            string            `json:"name,omitempty"`
	Upstream        string            `json:"upstream,omitempty"`
	Provider        Provider          `json:"provider,omitempty"`
	Command         string            `json:"command,omitempty"`
	Concurrent      int               `json:"concurrent,omitempty"`
	Interval        int               `json:"interval,omitempty"`
	RsyncOptions    Options           `json:"rsync_options,omitempty"`
	MemoryLimit     string            `json:"memory_limit,omitempty"`
	SizePattern     string            `json:"size_pattern,omitempty"`
	AdditionOptions map[string]string `json:"addition_option,omitempty"`
	Image           string            `json:"image,omitempty"`
	DataSize        string            `json:"data_size,omitempty"`
	Node            string            `json:"node,omitempty"`
}

// Validate checks the provider constraints shared by create and modify.
func (s JobSpec) Validate() error {
	if !s.Provider.Valid() {
		return ErrUnsupportedProvider
	}
	if s.Provider == ProviderCommand && s.Command == "" {
		return ErrMissingCommand
	}
	return nil
}

// Coerce replaces non-positive numeric fields with their defaults.
func (s *JobSpec) Coerce() {
	if s.Concurrent <= 0 {
		s.Concurrent = DefaultConcurrent
	}
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
}

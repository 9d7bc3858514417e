// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/projection"
)

//go:embed example-config.yaml
var ExampleConfig string

var ErrMissingURL = errors.New("channel.url is required")

type Config struct {
	Channel  ChannelConfig  `yaml:"channel"`
	Resolver ResolverConfig `yaml:"resolver"`
	Store    StoreConfig    `yaml:"store"`
	NATS     NATSConfig     `yaml:"nats"`
	HTTP     HTTPConfig     `yaml:"http"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LogConfig      `yaml:"logging"`

	// DisplaynameTemplate renders the name shown for conversations. It gets
	// ID, Name and Phone.
	DisplaynameTemplate string `yaml:"displayname_template"`
	displaynameTemplate *template.Template
}

type ChannelConfig struct {
	// URL is the websocket base, e.g. wss://events.example.com.
	URL string `yaml:"url"`
	// TenantPath sits between the base and the tenant id.
	TenantPath string `yaml:"tenant_path"`
	TenantID   string `yaml:"tenant_id"`
	// Token is sent as a bearer token in the handshake.
	Token     string   `yaml:"token"`
	Kinds     []string `yaml:"kinds"`
	AnyTenant bool     `yaml:"any_tenant"`
	Debug     bool     `yaml:"debug"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	MaxAttempts    int                    `yaml:"max_attempts"`
	BaseDelay      time.Duration          `yaml:"base_delay"`
	MaxDelay       time.Duration          `yaml:"max_delay"`
	CapExponent    int                    `yaml:"cap_exponent"`
	Jitter         time.Duration          `yaml:"jitter"`
	AuthCloseCodes eventchannel.CodeRange `yaml:"auth_close_codes"`
}

type ResolverConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	// Session is used when an event carries no session id.
	Session       string `yaml:"session"`
	Workers       int    `yaml:"workers"`
	CacheSize     int    `yaml:"cache_size"`
	MissThreshold int    `yaml:"miss_threshold"`
}

type StoreConfig struct {
	// Path of the SQLite database. Empty keeps state in memory.
	Path string `yaml:"path"`
}

type NATSConfig struct {
	URL             string        `yaml:"url"`
	SubjectPrefix   string        `yaml:"subject_prefix"`
	CredentialsFile string        `yaml:"credentials_file"`
	Token           string        `yaml:"token"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxReconnects   int           `yaml:"max_reconnects"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type SnapshotConfig struct {
	// Path of a YAML or JSON file with contacts and messages.
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	err := node.Decode((*umConfig)(c))
	if err != nil {
		return err
	}
	return c.PostProcess()
}

func (c *Config) PostProcess() error {
	var err error
	if c.DisplaynameTemplate == "" {
		c.DisplaynameTemplate = "{{or .Name .Phone .ID}}"
	}
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse displayname template: %w", err)
	}
	c.Channel.URL = strings.TrimRight(c.Channel.URL, "/")
	c.Channel.TenantPath = strings.Trim(c.Channel.TenantPath, "/")
	for i, kind := range c.Channel.Kinds {
		c.Channel.Kinds[i] = strings.TrimSpace(kind)
	}
	return nil
}

// Validate reports settings a running engine cannot do without.
func (c *Config) Validate() error {
	if c.Channel.URL == "" {
		return ErrMissingURL
	}
	if c.Resolver.Enabled && c.Resolver.URL == "" {
		return errors.New("resolver.url is required when the resolver is enabled")
	}
	return nil
}

type DisplaynameParams struct {
	ID    string
	Name  string
	Phone string
}

func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		if err := c.PostProcess(); err != nil {
			return params.ID
		}
	}
	var buf strings.Builder
	err := c.displaynameTemplate.Execute(&buf, &params)
	if err != nil {
		return params.ID
	}
	name := strings.TrimSpace(buf.String())
	if name == "" {
		return params.ID
	}
	return name
}

// SocketBase is the URL the tenant id is appended to.
func (c *ChannelConfig) SocketBase() string {
	if c.TenantPath == "" {
		return c.URL
	}
	return c.URL + "/" + c.TenantPath
}

func (c *ChannelConfig) Options() eventchannel.Options {
	opts := eventchannel.Options{
		AnyTenant:            c.AnyTenant,
		MaxReconnectAttempts: c.Reconnect.MaxAttempts,
		BaseDelay:            c.Reconnect.BaseDelay,
		MaxDelay:             c.Reconnect.MaxDelay,
		CapExponent:          c.Reconnect.CapExponent,
		JitterCeiling:        c.Reconnect.Jitter,
		AuthCloseCodes:       c.Reconnect.AuthCloseCodes,
		Debug:                c.Debug,
	}
	for _, kind := range c.Kinds {
		if kind != "" {
			opts.Kinds = append(opts.Kinds, eventchannel.Kind(kind))
		}
	}
	if c.Token != "" {
		opts.Header = http.Header{}
		opts.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return opts
}

func (c *ResolverConfig) Options() correlator.ResolverOptions {
	return correlator.ResolverOptions{Workers: c.Workers, CacheSize: c.CacheSize}
}

func (c *NATSConfig) Options() projection.NATSOptions {
	return projection.NATSOptions{
		URL:             c.URL,
		CredentialsFile: c.CredentialsFile,
		Token:           c.Token,
		ReconnectWait:   c.ReconnectWait,
		MaxReconnects:   c.MaxReconnects,
	}
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "displayname_template")

	helper.Copy(up.Str, "channel", "url")
	helper.Copy(up.Str, "channel", "tenant_path")
	helper.Copy(up.Str|up.Int, "channel", "tenant_id")
	helper.Copy(up.Str, "channel", "token")
	helper.Copy(up.List, "channel", "kinds")
	helper.Copy(up.Bool, "channel", "any_tenant")
	helper.Copy(up.Bool, "channel", "debug")
	helper.Copy(up.Int, "channel", "reconnect", "max_attempts")
	helper.Copy(up.Str, "channel", "reconnect", "base_delay")
	helper.Copy(up.Str, "channel", "reconnect", "max_delay")
	helper.Copy(up.Int, "channel", "reconnect", "cap_exponent")
	helper.Copy(up.Str, "channel", "reconnect", "jitter")
	helper.Copy(up.Int, "channel", "reconnect", "auth_close_codes", "min")
	helper.Copy(up.Int, "channel", "reconnect", "auth_close_codes", "max")

	helper.Copy(up.Bool, "resolver", "enabled")
	helper.Copy(up.Str, "resolver", "url")
	helper.Copy(up.Str, "resolver", "token")
	helper.Copy(up.Str, "resolver", "session")
	helper.Copy(up.Int, "resolver", "workers")
	helper.Copy(up.Int, "resolver", "cache_size")
	helper.Copy(up.Int, "resolver", "miss_threshold")

	helper.Copy(up.Str, "store", "path")

	helper.Copy(up.Str, "nats", "url")
	helper.Copy(up.Str, "nats", "subject_prefix")
	helper.Copy(up.Str, "nats", "credentials_file")
	helper.Copy(up.Str, "nats", "token")
	helper.Copy(up.Str, "nats", "reconnect_wait")
	helper.Copy(up.Int, "nats", "max_reconnects")

	helper.Copy(up.Str, "http", "listen")

	helper.Copy(up.Str, "snapshot", "path")
	helper.Copy(up.Bool, "snapshot", "watch")

	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Str, "logging", "file")
	helper.Copy(up.Int, "logging", "max_size_mb")
	helper.Copy(up.Int, "logging", "max_backups")
}

var configUpgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"channel"},
		{"resolver"},
		{"store"},
		{"nats"},
		{"http"},
		{"snapshot"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// SetTenant returns a copy of a YAML config with channel.tenant_id replaced.
// Comments are kept.
func SetTenant(data []byte, tenantID string) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	helper := up.NewHelper(&node, &node)
	if helper.GetBaseNode("channel", "tenant_id") == nil {
		return nil, errors.New("config has no channel.tenant_id")
	}
	helper.Set(up.Str, tenantID, "channel", "tenant_id")
	return yaml.Marshal(&node)
}

// LoadConfig reads the config at path, filling keys missing from it with the
// example defaults. With save set the upgraded file is written back.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, configUpgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

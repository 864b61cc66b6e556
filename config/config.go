package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shashidharatd/tbfctl/logger"
	"github.com/shashidharatd/tbfctl/qdisc"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Links   []Link        `yaml:"links"`
}

type LogConfig struct {
	Format     string                     `yaml:"format,omitempty"`
	Level      logger.LogLevel            `yaml:"level,omitempty"`
	Components map[string]logger.LogLevel `yaml:"components,omitempty"`
	File       string                     `yaml:"file,omitempty"`
	MaxSizeMB  int                        `yaml:"max-size-mb,omitempty"`
	MaxBackups int                        `yaml:"max-backups,omitempty"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Link is one attach point and its discipline sections. Sections are kept
// as YAML nodes so that keys replay in document order.
type Link struct {
	Name              string    `yaml:"name"`
	Netns             string    `yaml:"netns,omitempty"`
	Parent            string    `yaml:"parent,omitempty"`
	Handle            string    `yaml:"handle,omitempty"`
	TokenBucketFilter yaml.Node `yaml:"token-bucket-filter,omitempty"`
}

// Section is a discipline section of a link.
type Section struct {
	Name string
	Kind string
	Node *yaml.Node
	Line int
}

func (l *Link) Sections() []Section {
	var sections []Section
	if l.TokenBucketFilter.Kind != 0 {
		sections = append(sections, Section{
			Name: "token-bucket-filter",
			Kind: qdisc.KindTBF,
			Node: &l.TokenBucketFilter,
			Line: l.TokenBucketFilter.Line,
		})
	}
	return sections
}

func (l *Link) AttachPoint() (qdisc.AttachPoint, error) {
	parent, err := qdisc.ParseHandle(l.Parent)
	if err != nil {
		return qdisc.AttachPoint{}, fmt.Errorf("parent: %w", err)
	}
	return qdisc.AttachPoint{Namespace: l.Netns, Link: l.Name, Parent: parent}, nil
}

func (l *Link) QdiscHandle() (uint32, error) {
	h, err := qdisc.ParseHandle(l.Handle)
	if err != nil {
		return 0, fmt.Errorf("handle: %w", err)
	}
	return h, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Level == "" {
		c.Log.Level = logger.LogLevelInfo
	}
	if c.Log.File != "" && c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	for i := range c.Links {
		if c.Links[i].Parent == "" {
			c.Links[i].Parent = "root"
		}
		if c.Links[i].Handle == "" {
			c.Links[i].Handle = "1:"
		}
	}
}

func (c *Config) Validate() error {
	seen := make(map[qdisc.AttachPoint]int)

	for i := range c.Links {
		link := &c.Links[i]
		if link.Name == "" {
			return fmt.Errorf("links[%d]: name is required", i)
		}

		ap, err := link.AttachPoint()
		if err != nil {
			return fmt.Errorf("links[%d] (%s): %w", i, link.Name, err)
		}
		if _, err := link.QdiscHandle(); err != nil {
			return fmt.Errorf("links[%d] (%s): %w", i, link.Name, err)
		}
		if prev, ok := seen[ap]; ok {
			return fmt.Errorf("links[%d] (%s): attach point %s already configured by links[%d]", i, link.Name, ap, prev)
		}
		seen[ap] = i

		sections := link.Sections()
		if len(sections) == 0 {
			return fmt.Errorf("links[%d] (%s): no queueing discipline section", i, link.Name)
		}
		for _, s := range sections {
			if s.Node.Kind != yaml.MappingNode {
				return fmt.Errorf("links[%d] (%s): %s must be a mapping (line %d)", i, link.Name, s.Name, s.Line)
			}
		}
	}

	return nil
}

package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/shashidharatd/tbfctl/qdisc"
)

// Entry is one key assignment inside a discipline section.
type Entry struct {
	Section string
	Key     string
	Value   string
	Line    int
}

// Entries returns the assignments of a mapping node in document order,
// repeated keys included. A null value reads as the empty string.
func Entries(section string, node *yaml.Node) ([]Entry, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: expected a mapping (line %d)", section, node.Line)
	}

	entries := make([]Entry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%s.%s: expected a scalar value (line %d)", section, k.Value, v.Line)
		}
		value := v.Value
		if v.Tag == "!!null" {
			value = ""
		}
		entries = append(entries, Entry{Section: section, Key: k.Value, Value: value, Line: k.Line})
	}
	return entries, nil
}

// Ingest replays every section of link into a tentative configuration and
// commits it. Problems with single assignments go to report and do not stop
// the section; a validation failure discards the whole configuration.
func Ingest(reg *qdisc.Registry, link *Link, report func(Entry, error)) (qdisc.Discipline, error) {
	ap, err := link.AttachPoint()
	if err != nil {
		return nil, err
	}

	cfg := reg.Begin(ap)
	defer cfg.Discard()

	for _, s := range link.Sections() {
		entries, err := Entries(s.Name, s.Node)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if err := cfg.Set(s.Kind, e.Key, e.Value); err != nil && report != nil {
				report(e, err)
			}
		}
	}

	return cfg.Commit()
}

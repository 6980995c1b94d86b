package config

import (
	"strings"

	"github.com/telhawk-systems/auditflow/pkg/condition"
)

// Sink kinds understood by the pipeline sink registry.
const (
	SinkKindRemote  = "remote"
	SinkKindLogging = "logging"
)

// Pipeline is a named routing unit: condition, optional transformer, sink.
type Pipeline struct {
	Name        string               `mapstructure:"name" yaml:"name"`
	Enabled     bool                 `mapstructure:"enabled" yaml:"enabled"`
	Condition   *condition.Condition `mapstructure:"condition" yaml:"condition,omitempty"`
	Transformer *TransformerRef      `mapstructure:"transformer" yaml:"transformer,omitempty"`
	Sink        SinkRef              `mapstructure:"sink" yaml:"sink"`
}

// TransformerRef names the transformation applied before the sink.
type TransformerRef struct {
	Name string `mapstructure:"name" yaml:"name"`
}

// SinkRef names the destination and carries its static properties.
type SinkRef struct {
	Name       string            `mapstructure:"name" yaml:"name"`
	Kind       string            `mapstructure:"kind" yaml:"kind,omitempty"`
	Properties map[string]string `mapstructure:"properties" yaml:"properties,omitempty"`
}

// TransformerName returns the configured transformer, or "" when the event
// goes to the sink unmodified.
func (p Pipeline) TransformerName() string {
	if p.Transformer == nil {
		return ""
	}
	return p.Transformer.Name
}

// HasTransformer reports whether a transformer call is part of the pipeline.
func (p Pipeline) HasTransformer() bool {
	return p.TransformerName() != ""
}

func (p *Pipeline) normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Sink.Name = strings.TrimSpace(p.Sink.Name)
	p.Sink.Kind = strings.ToLower(strings.TrimSpace(p.Sink.Kind))
	if p.Sink.Kind == "" {
		p.Sink.Kind = SinkKindRemote
	}
	if p.Sink.Properties == nil {
		p.Sink.Properties = map[string]string{}
	}
	if p.Transformer != nil {
		p.Transformer.Name = strings.TrimSpace(p.Transformer.Name)
		if p.Transformer.Name == "" {
			p.Transformer = nil
		}
	}
	if p.Condition != nil {
		p.Condition.Match = strings.ToLower(strings.TrimSpace(p.Condition.Match))
	}
}

// EnabledPipelines returns the enabled pipelines in declaration order.
func (c *Config) EnabledPipelines() []Pipeline {
	out := make([]Pipeline, 0, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// NormalizePipelines returns a normalized copy of pipelines built outside Load.
func NormalizePipelines(pipelines []Pipeline) []Pipeline {
	out := make([]Pipeline, len(pipelines))
	for i, p := range pipelines {
		if p.Condition != nil {
			c := *p.Condition
			p.Condition = &c
		}
		if p.Transformer != nil {
			t := *p.Transformer
			p.Transformer = &t
		}
		p.normalize()
		out[i] = p
	}
	return out
}

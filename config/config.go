// Copyright 2024 The Secure AISGen authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the image generation policy: an ordered list of
// named sections of key/value pairs, where section names and keys are
// matched without regard to case.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Section is a named group of settings.
type Section struct {
	Name string

	keys   []string
	values map[string]string
}

// NewSection returns an empty section.
func NewSection(name string) *Section {
	return &Section{
		Name:   name,
		values: make(map[string]string),
	}
}

// Is reports whether the section has the given name.
func (s *Section) Is(name string) bool {
	return strings.EqualFold(s.Name, name)
}

// Set assigns a value, replacing any previous one.
func (s *Section) Set(key, value string) *Section {
	k := strings.ToUpper(key)
	if _, ok := s.values[k]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[k] = value
	return s
}

// Keys returns the keys in the order they were first set.
func (s *Section) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Has reports whether key is set.
func (s *Section) Has(key string) bool {
	_, ok := s.values[strings.ToUpper(key)]
	return ok
}

// String returns the trimmed value of key, or "" if unset.
func (s *Section) String(key string) string {
	return strings.TrimSpace(s.values[strings.ToUpper(key)])
}

// Uint32 parses key as a decimal or 0x prefixed hexadecimal number.
// Unset keys yield def.
func (s *Section) Uint32(key string, def uint32) (uint32, error) {
	if !s.Has(key) {
		return def, nil
	}
	v, err := ParseUint32(s.String(key))
	if err != nil {
		return 0, fmt.Errorf("%s/%s: %w", s.Name, key, err)
	}
	return v, nil
}

// Int32 parses key as a signed decimal or hexadecimal number.
func (s *Section) Int32(key string, def int32) (int32, error) {
	if !s.Has(key) {
		return def, nil
	}
	v, err := strconv.ParseInt(s.String(key), 0, 32)
	if err != nil {
		// hexadecimal two's complement, e.g. 0xFFFFFFF4
		u, uerr := ParseUint32(s.String(key))
		if uerr != nil {
			return 0, fmt.Errorf("%s/%s: %w", s.Name, key, err)
		}
		return int32(u), nil
	}
	return int32(v), nil
}

// Bool reports whether key is set to TRUE, YES or 1.
func (s *Section) Bool(key string) bool {
	switch strings.ToUpper(s.String(key)) {
	case "TRUE", "YES", "1":
		return true
	}
	return false
}

// ParseUint32 accepts decimal and 0x prefixed hexadecimal numbers.
func ParseUint32(v string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// Document is an ordered list of sections. Section names may repeat.
type Document struct {
	Sections []*Section
}

// Add appends a new section and returns it.
func (d *Document) Add(name string) *Section {
	s := NewSection(name)
	d.Sections = append(d.Sections, s)
	return s
}

// Find returns the first section with the given name, or nil.
func (d *Document) Find(name string) *Section {
	for _, s := range d.Sections {
		if s.Is(name) {
			return s
		}
	}
	return nil
}

// All returns every section with the given name, in document order.
func (d *Document) All(name string) []*Section {
	var r []*Section
	for _, s := range d.Sections {
		if s.Is(name) {
			r = append(r, s)
		}
	}
	return r
}

// Load reads a YAML policy document from a file.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a YAML policy document: a sequence of single entry
// mappings from section name to a mapping of scalar settings.
//
//	- General:
//	    BootMode: UART
//	- AIS_EnableCRC:
func Parse(b []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, err
	}

	d := &Document{}
	if root.Kind == 0 {
		return d, nil
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 {
		return nil, fmt.Errorf("line %d: expected a single document", root.Line)
	}
	seq := root.Content[0]
	if seq.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a sequence of sections", seq.Line)
	}

	for _, item := range seq.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, fmt.Errorf("line %d: expected a single section name", item.Line)
		}
		name, body := item.Content[0], item.Content[1]
		if name.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: section name must be a scalar", name.Line)
		}
		s := d.Add(name.Value)

		switch {
		case body.Kind == yaml.ScalarNode && body.Tag == "!!null":
			continue
		case body.Kind != yaml.MappingNode:
			return nil, fmt.Errorf("line %d: section %s must be a mapping", body.Line, name.Value)
		}
		for i := 0; i+1 < len(body.Content); i += 2 {
			k, v := body.Content[i], body.Content[i+1]
			if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: %s settings must be scalars", k.Line, name.Value)
			}
			if s.Has(k.Value) {
				return nil, fmt.Errorf("line %d: %s/%s set twice", k.Line, name.Value, k.Value)
			}
			s.Set(k.Value, v.Value)
		}
	}

	return d, nil
}

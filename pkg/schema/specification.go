// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// InvalidSpecificationError is returned when a user-supplied specification
// fails structural validation. The message carries field-level detail and
// is safe to surface.
type InvalidSpecificationError struct {
	Reason string
}

func (e *InvalidSpecificationError) Error() string {
	return fmt.Sprintf("invalid specification: %s", e.Reason)
}

func invalidSpec(format string, args ...interface{}) error {
	return &InvalidSpecificationError{Reason: fmt.Sprintf(format, args...)}
}

// PipDependencies is the nested {"pip": [...]} block of a specification's
// dependency list. Entries starting with -- are pip flags and are passed
// through untouched.
type PipDependencies struct {
	Pip []string `json:"pip" yaml:"pip"`
}

// Dependency is one element of the heterogeneous dependency list: either a
// conda match-spec string or a single nested pip block.
type Dependency struct {
	MatchSpec string
	Pip       *PipDependencies
}

// IsPip reports whether the dependency is the nested pip block.
func (d Dependency) IsPip() bool { return d.Pip != nil }

// MarshalJSON encodes the dependency as either a bare string or the nested
// pip object, mirroring the input shape.
func (d Dependency) MarshalJSON() ([]byte, error) {
	if d.Pip != nil {
		return json.Marshal(d.Pip)
	}
	return json.Marshal(d.MatchSpec)
}

// UnmarshalJSON decodes either a string or a {"pip": [...]} object.
func (d *Dependency) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d.MatchSpec = s
		d.Pip = nil
		return nil
	}

	var pip PipDependencies
	if err := json.Unmarshal(data, &pip); err != nil {
		return fmt.Errorf("dependency must be a string or a pip block: %w", err)
	}
	d.MatchSpec = ""
	d.Pip = &pip
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Dependency) MarshalYAML() (interface{}, error) {
	if d.Pip != nil {
		return d.Pip, nil
	}
	return d.MatchSpec, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Dependency) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		d.MatchSpec = s
		d.Pip = nil
		return nil
	}

	var pip PipDependencies
	if err := value.Decode(&pip); err != nil {
		return fmt.Errorf("dependency must be a string or a pip block: %w", err)
	}
	d.MatchSpec = ""
	d.Pip = &pip
	return nil
}

// CondaSpecification is a declarative environment request: a named set of
// channels, conda and pip dependencies, plus optional variables.
type CondaSpecification struct {
	Name         string            `json:"name" yaml:"name"`
	Channels     []string          `json:"channels" yaml:"channels"`
	Dependencies []Dependency      `json:"dependencies" yaml:"dependencies"`
	Variables    map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Prefix       string            `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// Validate performs structural validation of the specification.
func (s *CondaSpecification) Validate() error {
	if s.Name == "" {
		return invalidSpec("name must not be empty")
	}
	if !NameRegex.MatchString(s.Name) {
		return invalidSpec("name %q does not match %s", s.Name, NameRegex)
	}

	pipBlocks := 0
	for i, dep := range s.Dependencies {
		if dep.IsPip() {
			pipBlocks++
			for _, p := range dep.Pip.Pip {
				if p == "" {
					return invalidSpec("dependencies[%d]: pip entry must not be empty", i)
				}
			}
			continue
		}
		if dep.MatchSpec == "" {
			return invalidSpec("dependencies[%d]: match spec must not be empty", i)
		}
	}
	if pipBlocks > 1 {
		return invalidSpec("at most one pip block is allowed in dependencies")
	}

	for _, c := range s.Channels {
		if c == "" {
			return invalidSpec("channels must not contain empty entries")
		}
	}
	return nil
}

// PipPackages returns the contents of the pip block, or nil when absent.
func (s *CondaSpecification) PipPackages() []string {
	for _, dep := range s.Dependencies {
		if dep.IsPip() {
			return dep.Pip.Pip
		}
	}
	return nil
}

// AppendPipPackages appends to the existing pip block or creates one.
func (s *CondaSpecification) AppendPipPackages(packages []string) {
	for i, dep := range s.Dependencies {
		if dep.IsPip() {
			s.Dependencies[i].Pip.Pip = append(dep.Pip.Pip, packages...)
			return
		}
	}
	s.Dependencies = append(s.Dependencies, Dependency{
		Pip: &PipDependencies{Pip: append([]string(nil), packages...)},
	})
}

// LockfileSpecification is the alternate input shape carrying an already
// solved lockfile to be installed directly.
type LockfileSpecification struct {
	Name     string                 `json:"name" yaml:"name"`
	Lockfile map[string]interface{} `json:"lockfile" yaml:"lockfile"`
}

// Validate performs structural validation of the lockfile specification.
func (s *LockfileSpecification) Validate() error {
	if s.Name == "" {
		return invalidSpec("name must not be empty")
	}
	if !NameRegex.MatchString(s.Name) {
		return invalidSpec("name %q does not match %s", s.Name, NameRegex)
	}
	if len(s.Lockfile) == 0 {
		return invalidSpec("lockfile must not be empty")
	}
	return nil
}

// ParseCondaSpecification decodes and validates a user-supplied object.
func ParseCondaSpecification(raw []byte) (*CondaSpecification, error) {
	var spec CondaSpecification
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, invalidSpec("%v", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ParseCondaSpecificationYAML decodes and validates a YAML document, the
// shape produced by conda env export and used by watched environment files.
func ParseCondaSpecificationYAML(raw []byte) (*CondaSpecification, error) {
	var spec CondaSpecification
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, invalidSpec("%v", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// matchSpecName captures the package name portion of a conda match spec,
// i.e. everything before any version constraint or selector.
var matchSpecName = regexp.MustCompile(`^[A-Za-z0-9_.\-]+`)

// MatchSpecName returns the package name of a conda match spec such as
// "numpy=1.26" or "python>=3.10,<3.12".
func MatchSpecName(spec string) string {
	return matchSpecName.FindString(strings.TrimSpace(spec))
}

// RequirementName returns the distribution name of a PEP 508 requirement.
// Pip flags (entries starting with --) are returned unchanged so they are
// never treated as package names.
func RequirementName(requirement string) string {
	requirement = strings.TrimSpace(requirement)
	if strings.HasPrefix(requirement, "--") {
		return requirement
	}
	// Name ends at the first version/extras/marker character.
	if idx := strings.IndexAny(requirement, "=<>!~;[ "); idx >= 0 {
		requirement = requirement[:idx]
	}
	return strings.ToLower(requirement)
}

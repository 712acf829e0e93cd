package domain

import (
	"fmt"
	"strings"
)

// Topology is the immutable domain-to-server-group mapping built once at
// startup. It is safe for concurrent reads.
type Topology struct {
	groups   map[string]ServerGroup
	mappings map[string]DomainMapping
}

// NewTopology builds the topology from configured groups and mappings.
// Every mapping must reference at least one known group.
func NewTopology(groups []ServerGroup, mappings []DomainMapping) (*Topology, error) {
	t := &Topology{
		groups:   make(map[string]ServerGroup, len(groups)),
		mappings: make(map[string]DomainMapping, len(mappings)),
	}
	for _, g := range groups {
		if _, dup := t.groups[g.Name]; dup {
			return nil, fmt.Errorf("duplicate server group %q", g.Name)
		}
		t.groups[g.Name] = g
	}
	for _, m := range mappings {
		key := NormalizeDomain(m.Domain)
		if key == "" {
			return nil, fmt.Errorf("domain mapping with empty domain")
		}
		if _, dup := t.mappings[key]; dup {
			return nil, fmt.Errorf("duplicate domain mapping %q", key)
		}
		if len(m.ServerGroups) == 0 {
			return nil, fmt.Errorf("domain %q maps to no server groups", key)
		}
		for _, name := range m.ServerGroups {
			if _, ok := t.groups[name]; !ok {
				return nil, fmt.Errorf("domain %q references unknown server group %q", key, name)
			}
		}
		m.Domain = key
		t.mappings[key] = m
	}
	return t, nil
}

// Resolve returns the mapping and the ordered server groups for a domain.
// Lookup is case-insensitive, exact match only.
func (t *Topology) Resolve(domain string) (DomainMapping, []ServerGroup, error) {
	m, ok := t.mappings[NormalizeDomain(domain)]
	if !ok {
		return DomainMapping{}, nil, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	groups := make([]ServerGroup, 0, len(m.ServerGroups))
	for _, name := range m.ServerGroups {
		groups = append(groups, t.groups[name])
	}
	return m, groups, nil
}

// Domains lists every configured domain key.
func (t *Topology) Domains() []string {
	out := make([]string, 0, len(t.mappings))
	for key := range t.mappings {
		out = append(out, key)
	}
	return out
}

// NormalizeDomain lower-cases and trims a domain key.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package spa

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/atlaswire/atlaswire/internal/actor"
)

// serviceNamePattern constrains service names to URI path components.
var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// assetEntry is a composed asset with its owning service.
type assetEntry struct {
	Service     string
	Body        []byte
	ContentType string
	ETag        string
}

// Composition is the immutable result of composing a service list: the
// dependency-ordered services, the merged route inputs and the
// synthesized index page. It is computed once at startup and read-only
// afterwards.
type Composition struct {
	ordered []Service
	byName  map[string]Service

	// assets keyed by bare path; asset paths are unique across the whole
	// service list.
	assets  map[string]assetEntry
	proxies map[string][]ProxyRule
	modules []string
	html    []byte
}

// Compose validates and orders a service list and merges its components.
//
// Semantics: services are topologically reordered by declared deps
// (stable: ties between unrelated services resolve by position in the
// input list). Unknown deps and cycles are fatal. Asset paths must be unique across the whole list;
// proxies must not shadow asset paths; both violations are name
// conflicts. HTML fragments concatenate in dependency order; client
// modules deduplicate by path preserving first occurrence.
func Compose(services []Service) (*Composition, error) {
	byName := make(map[string]Service, len(services))
	for _, svc := range services {
		name := svc.Name()
		if !serviceNamePattern.MatchString(name) {
			return nil, fmt.Errorf("service name %q is not a valid URI path component", name)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("service %s declared twice: %w", name, actor.ErrNameConflict)
		}
		byName[name] = svc
	}

	ordered, err := topoOrder(services, byName)
	if err != nil {
		return nil, err
	}

	c := &Composition{
		ordered: ordered,
		byName:  byName,
		assets:  make(map[string]assetEntry),
		proxies: make(map[string][]ProxyRule),
	}

	var heads, bodies []string
	seenModule := make(map[string]bool)

	for _, svc := range ordered {
		b := newBuilder(svc.Name())
		if err := svc.AddComponents(b); err != nil {
			return nil, fmt.Errorf("service %s components: %w", svc.Name(), err)
		}
		if b.err != nil {
			return nil, b.err
		}

		for _, a := range b.assets {
			if prev, dup := c.assets[a.Path]; dup {
				return nil, fmt.Errorf("asset path %q declared by both %s and %s: %w",
					a.Path, prev.Service, svc.Name(), actor.ErrNameConflict)
			}
			c.assets[a.Path] = assetEntry{
				Service:     svc.Name(),
				Body:        a.Body,
				ContentType: a.ContentType,
				ETag:        etagFor(a.Body),
			}
		}

		for _, p := range b.proxies {
			if err := c.checkProxyShadow(svc.Name(), p); err != nil {
				return nil, err
			}
			c.proxies[svc.Name()] = append(c.proxies[svc.Name()], p)
		}

		heads = append(heads, b.head...)
		bodies = append(bodies, b.body...)
		for _, m := range b.modules {
			if !seenModule[m] {
				seenModule[m] = true
				c.modules = append(c.modules, m)
			}
		}
	}

	c.html = renderIndex(heads, bodies, c.modules)
	return c, nil
}

// checkProxyShadow rejects proxies whose prefix would shadow a declared
// asset path.
func (c *Composition) checkProxyShadow(service string, p ProxyRule) error {
	for path, entry := range c.assets {
		if path == p.Prefix || strings.HasPrefix(path, p.Prefix+"/") {
			return fmt.Errorf("proxy prefix %q of %s shadows asset %q of %s: %w",
				p.Prefix, service, path, entry.Service, actor.ErrNameConflict)
		}
	}
	return nil
}

// topoOrder is a stable Kahn sort: among services whose deps are all
// placed, the one earliest in the input list goes next.
func topoOrder(services []Service, byName map[string]Service) ([]Service, error) {
	for _, svc := range services {
		for _, dep := range svc.Deps() {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("service %s depends on unknown service %q", svc.Name(), dep)
			}
		}
	}

	placed := make(map[string]bool, len(services))
	ordered := make([]Service, 0, len(services))

	for len(ordered) < len(services) {
		progressed := false
		for _, svc := range services {
			if placed[svc.Name()] {
				continue
			}
			ready := true
			for _, dep := range svc.Deps() {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[svc.Name()] = true
				ordered = append(ordered, svc)
				progressed = true
			}
		}
		if !progressed {
			var stuck []string
			for _, svc := range services {
				if !placed[svc.Name()] {
					stuck = append(stuck, svc.Name())
				}
			}
			return nil, fmt.Errorf("service dependency cycle among %v", stuck)
		}
	}
	return ordered, nil
}

// Services returns the composed services in dependency order.
func (c *Composition) Services() []Service { return c.ordered }

// Lookup returns the named service.
func (c *Composition) Lookup(name string) (Service, bool) {
	svc, ok := c.byName[name]
	return svc, ok
}

// Asset resolves a path for a given owning service.
func (c *Composition) Asset(service, path string) (assetEntry, bool) {
	entry, ok := c.assets[path]
	if !ok || entry.Service != service {
		return assetEntry{}, false
	}
	return entry, true
}

// Proxy resolves the longest matching proxy rule of a service for path,
// returning the rule and the path remainder after the prefix.
func (c *Composition) Proxy(service, path string) (ProxyRule, string, bool) {
	var best ProxyRule
	var rest string
	found := false
	for _, p := range c.proxies[service] {
		if path == p.Prefix || strings.HasPrefix(path, p.Prefix+"/") {
			if !found || len(p.Prefix) > len(best.Prefix) {
				best = p
				rest = strings.TrimPrefix(strings.TrimPrefix(path, p.Prefix), "/")
				found = true
			}
		}
	}
	return best, rest, found
}

// Modules returns the deduplicated client module list in dependency order.
func (c *Composition) Modules() []string { return c.modules }

// HTML returns the synthesized index page.
func (c *Composition) HTML() []byte { return c.html }

// renderIndex assembles the single page from fragments and module refs.
func renderIndex(heads, bodies, modules []string) []byte {
	var sb strings.Builder
	sb.WriteString("<!doctype html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"utf-8\"/>\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"/>\n")
	sb.WriteString("<title>Atlaswire</title>\n")
	for _, h := range heads {
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("</head>\n<body>\n")
	for _, b := range bodies {
		sb.WriteString(b)
		sb.WriteString("\n")
	}
	for _, m := range modules {
		fmt.Fprintf(&sb, "<script type=\"module\" src=\"%s\"></script>\n", m)
	}
	sb.WriteString("</body>\n</html>\n")
	return []byte(sb.String())
}

package manifest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Rule names a verification rule
type Rule string

const (
	RuleFields         Rule = "fields"
	RuleName           Rule = "name"
	RulePortUnique     Rule = "port_unique"
	RuleLayerPorts     Rule = "layer_ports"
	RuleUpstreamPort   Rule = "upstream_port"
	RuleUpstreamLayer  Rule = "upstream_layer"
	RuleUpstreamScheme Rule = "upstream_scheme"
)

// Violation is one broken rule
type Violation struct {
	Service string `json:"service"`
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s: %s", v.Service, v.Rule, v.Message)
}

// Verify checks a deployment and returns every violation found, in manifest
// order. An empty result means the deployment is valid.
func Verify(manifests []Manifest) []Violation {
	var violations []Violation
	add := func(m Manifest, rule Rule, format string, args ...any) {
		violations = append(violations, Violation{
			Service: serviceName(m),
			Rule:    rule,
			Message: fmt.Sprintf(format, args...),
		})
	}

	byPort := make(map[int]Manifest, len(manifests))
	for _, m := range manifests {
		if _, ok := byPort[m.Port]; !ok {
			byPort[m.Port] = m
		}
	}

	seen := make(map[int]string, len(manifests))
	for _, m := range manifests {
		for _, msg := range missingFields(m) {
			add(m, RuleFields, "%s", msg)
		}

		if m.Dir != "" && m.Name != m.Dir {
			add(m, RuleName, "name %q does not match directory %q", m.Name, m.Dir)
		}

		if other, ok := seen[m.Port]; ok {
			add(m, RulePortUnique, "port %d already used by %s", m.Port, other)
		} else {
			seen[m.Port] = serviceName(m)
		}

		if r, ok := m.Layer.Ports(); ok && !r.Contains(m.Port) {
			add(m, RuleLayerPorts, "port %d outside %s range %s", m.Port, m.Layer, r)
		}

		if m.Upstream != "" {
			verifyUpstream(m, byPort, add)
		}
	}
	return violations
}

func verifyUpstream(m Manifest, byPort map[int]Manifest, add func(Manifest, Rule, string, ...any)) {
	if !strings.HasPrefix(m.Upstream, "ws://") && !strings.HasPrefix(m.Upstream, "wss://") {
		add(m, RuleUpstreamScheme, "upstream %q must start with ws:// or wss://", m.Upstream)
	}

	port, err := upstreamPort(m.Upstream)
	if err != nil {
		add(m, RuleUpstreamPort, "%v", err)
		return
	}

	upstreamLayer := LayerL0
	if provider, ok := byPort[port]; ok {
		upstreamLayer = provider.Layer
	} else if port != ImplicitUpstreamPort {
		add(m, RuleUpstreamPort, "upstream port %d does not belong to a known service", port)
		return
	}

	if m.Layer.Index() >= 0 && upstreamLayer.Index() > m.Layer.Index() {
		add(m, RuleUpstreamLayer, "%s service depends on %s upstream on port %d", m.Layer, upstreamLayer, port)
	}
}

func upstreamPort(raw string) (int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid upstream %q: %w", raw, err)
	}
	if u.Port() == "" {
		return 0, fmt.Errorf("upstream %q has no port", raw)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("invalid upstream port in %q: %w", raw, err)
	}
	return port, nil
}

func missingFields(m Manifest) []string {
	var msgs []string
	if m.Name == "" {
		msgs = append(msgs, "name is required")
	}
	if !isSemver(m.Version) {
		msgs = append(msgs, fmt.Sprintf("version %q is not a semantic version", m.Version))
	}
	if m.Layer.Index() < 0 {
		msgs = append(msgs, fmt.Sprintf("layer %q is not one of L0-L4", m.Layer))
	}
	if m.Port <= 0 || m.Port > 65535 {
		msgs = append(msgs, fmt.Sprintf("port %d is invalid", m.Port))
	}
	if !strings.HasPrefix(m.Health, "/") {
		msgs = append(msgs, fmt.Sprintf("health %q must start with /", m.Health))
	}
	if m.EventsConsumed == nil {
		msgs = append(msgs, "events_consumed is required")
	}
	if m.EventsProduced == nil {
		msgs = append(msgs, "events_produced is required")
	}
	return msgs
}

// isSemver accepts full MAJOR.MINOR.PATCH versions only, not the v1 and v1.2
// shorthands semver.IsValid allows.
func isSemver(version string) bool {
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) {
		return false
	}
	core, _, _ := strings.Cut(v, "+")
	return semver.Canonical(v) == core
}

func serviceName(m Manifest) string {
	if m.Name != "" {
		return m.Name
	}
	return m.Dir
}

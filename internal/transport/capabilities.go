package transport

import (
	"encoding/json"
	"strings"
)

// Capabilities is the set of features a server advertised during the initialization handshake.
type Capabilities uint16

const (
	CapabilityLogging Capabilities = 1 << iota
	CapabilityCompletions
	CapabilityPrompts
	CapabilityPromptsListChanged
	CapabilityResources
	CapabilityResourcesSubscribe
	CapabilityResourcesListChanged
	CapabilityTools
	CapabilityToolsListChanged
)

var capabilityNames = []struct {
	flag Capabilities
	name string
}{
	{CapabilityLogging, "logging"},
	{CapabilityCompletions, "completions"},
	{CapabilityPrompts, "prompts"},
	{CapabilityPromptsListChanged, "prompts.listChanged"},
	{CapabilityResources, "resources"},
	{CapabilityResourcesSubscribe, "resources.subscribe"},
	{CapabilityResourcesListChanged, "resources.listChanged"},
	{CapabilityTools, "tools"},
	{CapabilityToolsListChanged, "tools.listChanged"},
}

// Has reports whether every bit in flag is set.
func (c Capabilities) Has(flag Capabilities) bool {
	return c&flag == flag
}

// Names returns the dotted names of the set flags in declaration order.
func (c Capabilities) Names() []string {
	var names []string
	for _, n := range capabilityNames {
		if c.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return names
}

func (c Capabilities) String() string {
	return strings.Join(c.Names(), ",")
}

type listChanged struct {
	ListChanged bool `json:"listChanged"`
}

type capabilitiesJSON struct {
	Logging     json.RawMessage `json:"logging"`
	Completions json.RawMessage `json:"completions"`
	Prompts     *listChanged    `json:"prompts"`
	Resources   *struct {
		Subscribe   bool `json:"subscribe"`
		ListChanged bool `json:"listChanged"`
	} `json:"resources"`
	Tools *listChanged `json:"tools"`
}

// DecodeCapabilities builds the flag set from a server capabilities object in its JSON form.
func DecodeCapabilities(raw []byte) (Capabilities, error) {
	var v capabilitiesJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}

	var c Capabilities
	if present(v.Logging) {
		c |= CapabilityLogging
	}
	if present(v.Completions) {
		c |= CapabilityCompletions
	}
	if v.Prompts != nil {
		c |= CapabilityPrompts
		if v.Prompts.ListChanged {
			c |= CapabilityPromptsListChanged
		}
	}
	if v.Resources != nil {
		c |= CapabilityResources
		if v.Resources.Subscribe {
			c |= CapabilityResourcesSubscribe
		}
		if v.Resources.ListChanged {
			c |= CapabilityResourcesListChanged
		}
	}
	if v.Tools != nil {
		c |= CapabilityTools
		if v.Tools.ListChanged {
			c |= CapabilityToolsListChanged
		}
	}

	return c, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// PropertySpec selects which CRM properties a stream exports. It is
// either the literal "ALL" or a comma-free list of property names.
type PropertySpec struct {
	All   bool     `yaml:"all" json:"all"`
	Names []string `yaml:"names" json:"names"`
}

// UnmarshalYAML accepts the string "ALL", a single property name, or a
// YAML sequence of names.
func (p *PropertySpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		if strings.EqualFold(s, "ALL") {
			p.All = true
			p.Names = nil
			return nil
		}
		p.All = false
		p.Names = []string{s}
		return nil
	}
	var names []string
	if err := unmarshal(&names); err != nil {
		return fmt.Errorf("properties must be \"ALL\", a name, or a list of names: %w", err)
	}
	p.All = false
	p.Names = names
	return nil
}

// ObjectConfig overrides per-object extraction behavior. Object types
// without an entry use the source-level defaults.
type ObjectConfig struct {
	Properties         *PropertySpec `yaml:"properties" json:"properties"`
	IncludeCustomProps *bool         `yaml:"include_custom_props" json:"include_custom_props"`

	// PropertyLabels lists property names whose human-readable labels
	// are exported through the properties stream.
	PropertyLabels []string `yaml:"property_labels" json:"property_labels"`
}

// EventStreamConfig names one behavioral event stream to extract.
type EventStreamConfig struct {
	ObjectType string   `yaml:"object_type" json:"object_type"`
	EventType  string   `yaml:"event_type" json:"event_type"`
	ObjectIDs  []string `yaml:"object_ids" json:"object_ids"`
}

// HubSpotSourceConfig configures the HubSpot CRM source.
type HubSpotSourceConfig struct {
	BaseConfig `yaml:",inline"`

	// BaseURL overrides the HubSpot API endpoint, mainly for tests.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey is a private app token. Ignored when RefreshToken is set.
	APIKey string `yaml:"api_key" json:"api_key"`

	// OAuth app credentials for refresh-token auth.
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	RefreshToken string `yaml:"refresh_token" json:"refresh_token"`

	// Objects lists the object types to extract, by plural name.
	Objects []string `yaml:"objects" json:"objects"`

	// ObjectOverrides keys per-object settings by plural name.
	ObjectOverrides map[string]ObjectConfig `yaml:"object_overrides" json:"object_overrides"`

	// IncludeCustomProps appends portal-defined properties to each
	// object's exported set. Defaults to true.
	IncludeCustomProps *bool `yaml:"include_custom_props" json:"include_custom_props"`

	// SoftDelete fetches archived records alongside live ones and
	// marks them with an is_deleted column.
	SoftDelete bool `yaml:"soft_delete" json:"soft_delete"`

	// IncludeHistory adds a property-change history stream per
	// object type, covering its resolved property set.
	IncludeHistory bool `yaml:"include_history" json:"include_history"`

	// PropertiesWithHistory narrows the history stream of an object
	// type to the named properties.
	PropertiesWithHistory map[string][]string `yaml:"properties_with_history" json:"properties_with_history"`

	// Events lists behavioral event streams to extract incrementally.
	Events []EventStreamConfig `yaml:"events" json:"events"`

	// StartDate is the initial lower bound for event extraction.
	StartDate time.Time `yaml:"start_date" json:"start_date"`
}

// Validate checks the HubSpot source configuration.
func (c *HubSpotSourceConfig) Validate() error {
	if err := c.BaseConfig.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" && c.RefreshToken == "" {
		return fmt.Errorf("hubspot: either api_key or refresh_token is required")
	}
	if c.RefreshToken != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return fmt.Errorf("hubspot: refresh_token auth requires client_id and client_secret")
	}
	for name, oc := range c.ObjectOverrides {
		if oc.Properties == nil {
			continue
		}
		for _, p := range oc.Properties.Names {
			if strings.Contains(p, ",") {
				return fmt.Errorf("hubspot: object %q: property name %q must not contain a comma", name, p)
			}
		}
	}
	for i, ev := range c.Events {
		if ev.ObjectType == "" {
			return fmt.Errorf("hubspot: events[%d]: object_type is required", i)
		}
		if ev.EventType == "" {
			return fmt.Errorf("hubspot: events[%d]: event_type is required", i)
		}
	}
	return nil
}

// CustomPropsEnabled reports whether custom properties are included
// for the given plural object name, applying the override chain.
func (c *HubSpotSourceConfig) CustomPropsEnabled(object string) bool {
	if oc, ok := c.ObjectOverrides[object]; ok && oc.IncludeCustomProps != nil {
		return *oc.IncludeCustomProps
	}
	if c.IncludeCustomProps != nil {
		return *c.IncludeCustomProps
	}
	return true
}

// PropertiesFor returns the property spec for the given plural object
// name, or nil when the built-in default set applies.
func (c *HubSpotSourceConfig) PropertiesFor(object string) *PropertySpec {
	if oc, ok := c.ObjectOverrides[object]; ok {
		return oc.Properties
	}
	return nil
}

// JSONLDestinationConfig configures the newline-delimited JSON sink.
type JSONLDestinationConfig struct {
	BaseConfig `yaml:",inline"`

	// Directory receives one file per stream.
	Directory string `yaml:"directory" json:"directory"`

	// Append opens existing files in append mode instead of
	// truncating them.
	Append bool `yaml:"append" json:"append"`
}

// Validate checks the JSONL destination configuration.
func (c *JSONLDestinationConfig) Validate() error {
	if err := c.BaseConfig.Validate(); err != nil {
		return err
	}
	if c.Directory == "" {
		return fmt.Errorf("jsonl: directory is required")
	}
	return nil
}

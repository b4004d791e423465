package ruledef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/trigger"
	"gopkg.in/yaml.v3"
)

const (
	APIVersionV1 = "v1"
	KindTrigger  = "Trigger"
)

// Definition models the root trigger document.
type Definition struct {
	Schema     string   `yaml:"$schema,omitempty" json:"$schema,omitempty"`
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata" json:"metadata"`
	Trigger    Trigger  `yaml:"trigger" json:"trigger"`
	Action     Action   `yaml:"action" json:"action"`
}

// Metadata contains descriptive data for the trigger.
type Metadata struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Trigger defines which events fire the rule.
type Trigger struct {
	Type       string             `yaml:"type" json:"type"`
	Conditions []models.Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Active     *bool              `yaml:"active,omitempty" json:"active,omitempty"`
}

// Action names the template the rule runs.
type Action struct {
	Template  string         `yaml:"template" json:"template"`
	Config    map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	NotifyURL string         `yaml:"notifyUrl,omitempty" json:"notifyUrl,omitempty"`
}

// IsActive reports the desired is_active flag; rules are active by default.
func (d *Definition) IsActive() bool {
	return d.Trigger.Active == nil || *d.Trigger.Active
}

// Parse parses a single YAML document into a Definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if err := def.Validate(nil); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseAll parses every document of a multi-document YAML stream. Blank
// documents are skipped.
func ParseAll(data []byte) ([]*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var defs []*Definition
	for {
		var def Definition
		if err := dec.Decode(&def); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if def.isBlank() {
			continue
		}
		if err := def.Validate(nil); err != nil {
			return nil, err
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

// Validate performs semantic validation on the definition. When templates
// is non-empty the action template must be one of them.
func (d *Definition) Validate(templates []string) error {
	if d.APIVersion != APIVersionV1 {
		return fmt.Errorf("unsupported apiVersion: %s", d.APIVersion)
	}
	if d.Kind != KindTrigger {
		return fmt.Errorf("unsupported kind: %s", d.Kind)
	}
	if strings.TrimSpace(d.Metadata.Name) == "" {
		return fmt.Errorf("metadata.name is required")
	}

	if !models.TriggerType(d.Trigger.Type).Valid() {
		return fmt.Errorf("trigger.type must be one of [%s,%s,%s]",
			models.TriggerTypeEmailReceived, models.TriggerTypeFileStatusChanged, models.TriggerTypeCustomerCreated)
	}
	for i, c := range d.Trigger.Conditions {
		if err := trigger.ValidateCondition(c); err != nil {
			return fmt.Errorf("trigger.conditions[%d]: %w", i, err)
		}
	}

	if strings.TrimSpace(d.Action.Template) == "" {
		return fmt.Errorf("action.template is required")
	}
	if len(templates) > 0 && !slices.Contains(templates, d.Action.Template) {
		return fmt.Errorf("action.template %q is not one of [%s]", d.Action.Template, strings.Join(templates, ","))
	}
	if d.Action.NotifyURL != "" {
		u, err := url.Parse(d.Action.NotifyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("action.notifyUrl must be an absolute http(s) URL")
		}
	}
	if d.Action.Config == nil {
		d.Action.Config = map[string]any{}
	}
	return nil
}

func (d *Definition) isBlank() bool {
	return d.APIVersion == "" && d.Kind == "" && strings.TrimSpace(d.Metadata.Name) == "" &&
		d.Trigger.Type == "" && d.Action.Template == ""
}

package topicmgr

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Validator checks component and topic names before they reach the registry
type Validator struct {
	// namePattern defines valid topic name patterns
	namePattern *regexp.Regexp
}

// NewValidator creates a new name validator
func NewValidator() *Validator {
	// Topic names are lowercase identifiers, optionally dotted: status, input_images, camera.front.frame
	namePattern := regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

	return &Validator{
		namePattern: namePattern,
	}
}

// ValidateTopicName checks if a topic name follows the naming convention
func (v *Validator) ValidateTopicName(name string) error {
	if name == "" {
		return fmt.Errorf("topic name cannot be empty")
	}

	if len(name) > 100 {
		return fmt.Errorf("topic name too long (max 100 characters)")
	}

	if !v.namePattern.MatchString(name) {
		return fmt.Errorf("topic name %q must be lowercase alphanumeric with underscores, dot separated", name)
	}

	return nil
}

// ValidateComponentName checks a publisher or subscriber name.
func (v *Validator) ValidateComponentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("component name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("component name %q has surrounding whitespace", name)
	}
	if len(name) > 100 {
		return fmt.Errorf("component name too long (max 100 characters)")
	}
	return nil
}

// normalizeTopics validates every topic name and returns a sorted, de-duplicated copy.
func (v *Validator) normalizeTopics(topics []string) ([]string, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if err := v.ValidateTopicName(t); err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	slices.Sort(out)
	return out, nil
}

package config

import "gopkg.in/yaml.v3"

// StringOrList decodes either a single YAML scalar or a sequence into a
// []string, matching the schema YAML's singleton-coerced-to-list rule
// (spec §6: "each a key name or list of key names, singleton coerced to
// list").
type StringOrList []string

func (s *StringOrList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var one string
		if err := value.Decode(&one); err != nil {
			return err
		}
		*s = []string{one}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// manifest is the YAML build-manifest format `buildctl build` consumes: a
// list of submissions, each naming a project plus the configuration it
// should be evaluated with.
type manifest struct {
	Submissions []submissionSpec `yaml:"submissions"`
}

type submissionSpec struct {
	Project      string            `yaml:"project"`
	Properties   map[string]string `yaml:"properties"`
	Targets      []string          `yaml:"targets"`
	ToolsVersion string            `yaml:"tools-version"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(m.Submissions) == 0 {
		return nil, fmt.Errorf("manifest %s declares no submissions", path)
	}
	for i, s := range m.Submissions {
		if s.Project == "" {
			return nil, fmt.Errorf("submission %d: project is required", i)
		}
	}
	return &m, nil
}

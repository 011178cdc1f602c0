// Package content holds the marketing copy shown on the site pages.
package content

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed site.yaml
var siteYAML []byte

type Feature struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Tone        string `yaml:"tone"`
}

type Highlight struct {
	Title string `yaml:"title"`
	Value string `yaml:"value"`
}

type DocSection struct {
	Heading string `yaml:"heading"`
	Body    string `yaml:"body"`
}

type Site struct {
	Brand   string `yaml:"brand"`
	Product string `yaml:"product"`

	Hero struct {
		Title    string `yaml:"title"`
		Subtitle string `yaml:"subtitle"`
		CTA      string `yaml:"cta"`
	} `yaml:"hero"`

	Features   []Feature   `yaml:"features"`
	Highlights []Highlight `yaml:"highlights"`

	Docs struct {
		Title    string       `yaml:"title"`
		Sections []DocSection `yaml:"sections"`
	} `yaml:"docs"`

	Contact struct {
		Title   string `yaml:"title"`
		Success string `yaml:"success"`
	} `yaml:"contact"`
}

// Load parses the embedded site copy.
func Load() (*Site, error) {
	return Parse(siteYAML)
}

func Parse(data []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse site content: %w", err)
	}
	if s.Brand == "" {
		return nil, fmt.Errorf("site content has no brand")
	}
	return &s, nil
}

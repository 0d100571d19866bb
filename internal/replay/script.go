// Package replay is a scripted host engine. It walks a YAML description of
// suites, tests and keywords and drives the agent callbacks with the same
// attribute shapes a real test run produces, which makes the agent and an
// observer usable without the real engine.
package replay

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrEmptyScript = errors.New("script has no suites")

type Script struct {
	Suites []Suite `yaml:"suites"`
	Output struct {
		Log    string `yaml:"log"`
		Report string `yaml:"report"`
	} `yaml:"output"`
}

type Suite struct {
	Name     string            `yaml:"name"`
	Doc      string            `yaml:"doc"`
	Source   string            `yaml:"source"`
	Metadata map[string]string `yaml:"metadata"`
	Suites   []Suite           `yaml:"suites"`
	Tests    []Test            `yaml:"tests"`
}

type Test struct {
	Name     string    `yaml:"name"`
	Doc      string    `yaml:"doc"`
	Tags     []string  `yaml:"tags"`
	Keywords []Keyword `yaml:"keywords"`
}

// Keyword is one call. Status FAIL makes the call fail after its children
// ran; Message is then the failure message.
type Keyword struct {
	Name     string    `yaml:"name"`
	Args     []string  `yaml:"args"`
	Assign   []string  `yaml:"assign"`
	Status   string    `yaml:"status"`
	Message  string    `yaml:"message"`
	Messages []Message `yaml:"messages"`
	Keywords []Keyword `yaml:"keywords"`
}

type Message struct {
	Level string `yaml:"level"`
	Text  string `yaml:"text"`
	HTML  bool   `yaml:"html"`
}

func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Suites) == 0 {
		return nil, ErrEmptyScript
	}
	for i := range s.Suites {
		if err := s.Suites[i].validate(); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func (s *Suite) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("suite without name")
	}
	for i := range s.Suites {
		if err := s.Suites[i].validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	for _, t := range s.Tests {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%s: test without name", s.Name)
		}
		if err := validateKeywords(t.Keywords); err != nil {
			return fmt.Errorf("%s.%s: %w", s.Name, t.Name, err)
		}
	}
	return nil
}

func validateKeywords(kws []Keyword) error {
	for _, kw := range kws {
		if strings.TrimSpace(kw.Name) == "" {
			return errors.New("keyword without name")
		}
		switch strings.ToUpper(kw.Status) {
		case "", statusPass, statusFail:
		default:
			return fmt.Errorf("keyword %s: unknown status %q", kw.Name, kw.Status)
		}
		if err := validateKeywords(kw.Keywords); err != nil {
			return err
		}
	}
	return nil
}

func (s *Suite) totalTests() int {
	n := len(s.Tests)
	for i := range s.Suites {
		n += s.Suites[i].totalTests()
	}
	return n
}

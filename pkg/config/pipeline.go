package config

import (
	"io/ioutil"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/fluxcd/conveyor/pkg/artifact"
)

// PipelineFileVersion marks a file as a conveyor pipeline.
const PipelineFileVersion = "1"

// Pipeline is the topology of the system being delivered: the fixed
// set of services built from the repository, and the branches that
// drive runs and promotions.
//
//	version: 1
//	branches:
//	  integration: develop
//	  main: main
//	services:
//	- name: api
//	  source: services/api
//	  test: [go, test, ./...]
//	  port: 8080
//	  database: true
type Pipeline struct {
	Version  string            `yaml:"version"`
	Branches PipelineBranches  `yaml:"branches"`
	Services []PipelineService `yaml:"services"`
}

type PipelineBranches struct {
	Integration string `yaml:"integration"`
	Main        string `yaml:"main"`
}

type PipelineService struct {
	Name       string   `yaml:"name"`
	Source     string   `yaml:"source"`
	Test       []string `yaml:"test,omitempty"`
	Port       int      `yaml:"port,omitempty"`
	HealthPath string   `yaml:"healthPath,omitempty"`
	Database   bool     `yaml:"database,omitempty"`
}

// Service names become resource names in environments, so they must
// be DNS labels.
var serviceNameRE = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]{0,61}[a-z0-9])?$`)

// ParsePipeline reads a pipeline definition. Relative source
// directories are taken relative to baseDir.
func ParsePipeline(data []byte, baseDir string) (Pipeline, error) {
	var p Pipeline
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return p, errors.Wrap(err, "parsing pipeline")
	}
	if err := p.validate(); err != nil {
		return p, err
	}
	for i := range p.Services {
		if !filepath.IsAbs(p.Services[i].Source) {
			p.Services[i].Source = filepath.Join(baseDir, p.Services[i].Source)
		}
	}
	return p, nil
}

// LoadPipeline reads the pipeline file at path; sources are relative
// to the directory it's in.
func LoadPipeline(path string) (Pipeline, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Pipeline{}, errors.Wrap(err, "reading pipeline file")
	}
	return ParsePipeline(data, filepath.Dir(path))
}

func (p Pipeline) validate() error {
	if p.Version != PipelineFileVersion {
		return errors.Errorf("pipeline file is expected to have `version: %s`", PipelineFileVersion)
	}
	if len(p.Services) == 0 {
		return errors.New("pipeline has no services")
	}
	seen := map[string]bool{}
	for i, s := range p.Services {
		if !serviceNameRE.MatchString(s.Name) {
			return errors.Errorf("service %d: name %q is not a valid DNS label", i, s.Name)
		}
		if seen[s.Name] {
			return errors.Errorf("service %q appears more than once", s.Name)
		}
		seen[s.Name] = true
		if s.Source == "" {
			return errors.Errorf("service %q has no source directory", s.Name)
		}
		if s.Port < 0 || s.Port > 65535 {
			return errors.Errorf("service %q has invalid port %d", s.Name, s.Port)
		}
	}
	return nil
}

// ArtifactServices gives the services in the form the pipeline
// works with.
func (p Pipeline) ArtifactServices() []artifact.Service {
	res := make([]artifact.Service, len(p.Services))
	for i, s := range p.Services {
		res[i] = artifact.Service{
			Name:        s.Name,
			SourceDir:   s.Source,
			TestCommand: s.Test,
			Port:        s.Port,
			HealthPath:  s.HealthPath,
			Database:    s.Database,
		}
	}
	return res
}

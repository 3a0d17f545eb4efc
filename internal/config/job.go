package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ijscript/internal/spec"
)

const SupportedSchema = "v1"

// LoadJob parses a job YAML, validates schema_version, reads script_file
// when set and turns relative file paths into paths next to the job file.
func LoadJob(path string) (spec.Job, error) {
	var job spec.Job
	raw, err := os.ReadFile(path)
	if err != nil {
		return job, err
	}
	if err := yaml.Unmarshal(raw, &job); err != nil {
		return job, fmt.Errorf("job %s: %w", path, err)
	}
	if job.SchemaVersion == "" {
		job.SchemaVersion = SupportedSchema
	}
	if job.SchemaVersion != SupportedSchema {
		return job, fmt.Errorf("job schema_version %q not supported (want %q)", job.SchemaVersion, SupportedSchema)
	}

	dir := filepath.Dir(path)
	resolve := func(p string) string {
		if p != "" && !filepath.IsAbs(p) {
			return filepath.Join(dir, p)
		}
		return p
	}

	if job.ScriptFile != "" {
		if job.Script != "" {
			return job, fmt.Errorf("job %s: script and script_file are mutually exclusive", path)
		}
		job.ScriptFile = resolve(job.ScriptFile)
		body, err := os.ReadFile(job.ScriptFile)
		if err != nil {
			return job, fmt.Errorf("job %s: %w", path, err)
		}
		job.Script = string(body)
		if job.Name == "" {
			job.Name = filepath.Base(job.ScriptFile)
		}
	}
	for i := range job.Params {
		job.Params[i].File = resolve(job.Params[i].File)
	}
	for i := range job.Outputs {
		job.Outputs[i].File = resolve(job.Outputs[i].File)
	}
	return job, nil
}

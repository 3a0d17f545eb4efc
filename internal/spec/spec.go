package spec

// ParamSpec is one script input. Scalars carry Value; images carry File.
type ParamSpec struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`  // String|Boolean|Integer|Float|Double|Image
	Value string `yaml:"value"` // scalar literal
	File  string `yaml:"file"`  // image path (.tif via the hyperstack codec, others via imaging)
}

// OutputSpec is one expected result. Image outputs may name a File to save to.
type OutputSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	File string `yaml:"file"`
}

type Job struct {
	SchemaVersion string `yaml:"schema_version"`

	// Name is passed to the server to pick the script language, e.g. "job.js".
	Name       string `yaml:"name"`
	Script     string `yaml:"script"`
	ScriptFile string `yaml:"script_file"`

	Headless  *bool  `yaml:"headless"` // nil = client default
	Axes      string `yaml:"axes"`
	TimeoutMS int    `yaml:"timeout_ms"`

	Params  []ParamSpec  `yaml:"params"`
	Outputs []OutputSpec `yaml:"outputs"`
}

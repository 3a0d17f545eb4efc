// Package script assembles the script text and argument list sent to the
// remote host, and converts the host's string results back to Go values.
//
// An assembled script looks like:
//
//	// #@ImageJ ij
//	// #@Double sigma
//	// #@output Integer count
//
//	img = ij.scifio().datasetIO().open("/tmp/img_123.tif")
//	<body>
//	ij.scifio().datasetIO().save(out, "/tmp/out_456.tif")
//	null
package script

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	Preamble = "// #@ImageJ " + ServiceName + "\n"
	Trailer  = "\nnull"

	loadCall = "ij.scifio().datasetIO().open"
	saveCall = "ij.scifio().datasetIO().save"
)

// Builder collects declarations for one script run.
// The zero value is ready to use.
type Builder struct {
	decls   []string
	outputs []string
	loads   []string
	saves   []string
	args    []string
}

// Param declares a scalar parameter and appends its argument.
func (b *Builder) Param(p Param) error {
	if !p.Kind.Scalar() {
		return fmt.Errorf("%w: parameter %q of kind %s", ErrUnsupportedType, p.Name, p.Kind)
	}
	lit, err := p.Literal()
	if err != nil {
		return err
	}
	b.decls = append(b.decls, fmt.Sprintf("// #@%s %s\n", p.Kind.TypeName(), p.Name))
	b.args = append(b.args, p.Name+"="+quote(lit))
	return nil
}

// Output declares a scalar output the host should return.
func (b *Builder) Output(o Output) error {
	if !o.Kind.Scalar() {
		return fmt.Errorf("%w: output %q of kind %s", ErrUnsupportedType, o.Name, o.Kind)
	}
	b.outputs = append(b.outputs, fmt.Sprintf("// #@output %s %s\n", o.Kind.TypeName(), o.Name))
	return nil
}

// Load makes the host open the image at path into variable name before the body runs.
func (b *Builder) Load(name, path string) {
	b.loads = append(b.loads, fmt.Sprintf("%s = %s(%s)\n", name, loadCall, quote(filepath.ToSlash(path))))
}

// Save makes the host write variable name to path after the body runs.
func (b *Builder) Save(name, path string) {
	b.saves = append(b.saves, fmt.Sprintf("\n%s(%s, %s)", saveCall, name, quote(filepath.ToSlash(path))))
}

// Code returns the full script around body.
func (b *Builder) Code(body string) string {
	var sb strings.Builder
	sb.WriteString(Preamble)
	for _, l := range b.decls {
		sb.WriteString(l)
	}
	for _, l := range b.outputs {
		sb.WriteString(l)
	}
	if len(b.loads) > 0 {
		sb.WriteString("\n")
		for _, l := range b.loads {
			sb.WriteString(l)
		}
	}
	sb.WriteString(body)
	for _, l := range b.saves {
		sb.WriteString(l)
	}
	sb.WriteString(Trailer)
	return sb.String()
}

// Args returns the comma-joined key="value" list.
func (b *Builder) Args() string { return strings.Join(b.args, ",") }

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string { return `"` + quoter.Replace(s) + `"` }

package script_test

import (
	"strings"
	"testing"

	"ijscript/ndarray"
	"ijscript/script"

	"github.com/stretchr/testify/require"
)

func TestBuilder_DeclarationTypeNames(t *testing.T) {
	tests := []struct {
		param script.Param
		want  string
	}{
		{script.String("s", "text"), "// #@String s\n"},
		{script.Bool("b", true), "// #@Boolean b\n"},
		{script.Int("i", 7), "// #@Integer i\n"},
		{script.Float("f", 1.5), "// #@Float f\n"},
		{script.Double("d", 2.25), "// #@Double d\n"},
	}
	for _, tt := range tests {
		t.Run(tt.param.Kind.String(), func(t *testing.T) {
			var b script.Builder
			require.NoError(t, b.Param(tt.param))
			code := b.Code("")
			require.Equal(t, script.Preamble+tt.want+script.Trailer, code)
		})
	}
}

func TestBuilder_ArgsJoinedAndQuoted(t *testing.T) {
	var b script.Builder
	require.NoError(t, b.Param(script.String("title", `say "hi"`)))
	require.NoError(t, b.Param(script.Int("n", 3)))
	require.NoError(t, b.Param(script.Bool("flag", false)))
	require.NoError(t, b.Param(script.Double("sigma", 0.5)))

	args := b.Args()
	require.Equal(t, `title="say \"hi\"",n="3",flag="false",sigma="0.5"`, args)
	require.False(t, strings.HasSuffix(args, ","))

	var empty script.Builder
	require.Empty(t, empty.Args())
}

func TestBuilder_NoInjectionForPlainScript(t *testing.T) {
	var b script.Builder
	require.NoError(t, b.Output(script.Output{Name: "x", Kind: script.KindInteger}))
	code := b.Code("x = 2 + 2")
	require.Equal(t, "// #@ImageJ ij\n// #@output Integer x\nx = 2 + 2\nnull", code)
}

func TestBuilder_LoadAndSaveOrder(t *testing.T) {
	var b script.Builder
	require.NoError(t, b.Param(script.Int("radius", 2)))
	require.NoError(t, b.Output(script.Output{Name: "count", Kind: script.KindInteger}))
	b.Load("img", "/tmp/img_1.tif")
	b.Save("out", "/tmp/out_2.tif")

	want := "// #@ImageJ ij\n" +
		"// #@Integer radius\n" +
		"// #@output Integer count\n" +
		"\n" +
		`img = ij.scifio().datasetIO().open("/tmp/img_1.tif")` + "\n" +
		"out = img" +
		"\n" + `ij.scifio().datasetIO().save(out, "/tmp/out_2.tif")` +
		"\nnull"
	require.Equal(t, want, b.Code("out = img"))
}

func TestBuilder_RejectsNonScalar(t *testing.T) {
	a, err := ndarray.New(ndarray.Uint8, 2, 2)
	require.NoError(t, err)

	var b script.Builder
	require.ErrorIs(t, b.Param(script.Image("img", a)), script.ErrUnsupportedType)
	require.ErrorIs(t, b.Param(script.Param{Name: "zero"}), script.ErrUnsupportedType)
	require.ErrorIs(t, b.Output(script.Output{Name: "img", Kind: script.KindImage}), script.ErrUnsupportedType)
}

func TestParamOf(t *testing.T) {
	a, err := ndarray.New(ndarray.Float32, 1, 1)
	require.NoError(t, err)

	tests := []struct {
		v    any
		want script.Kind
	}{
		{"s", script.KindString},
		{true, script.KindBoolean},
		{42, script.KindInteger},
		{int64(42), script.KindInteger},
		{float32(1), script.KindFloat},
		{1.0, script.KindDouble},
		{a, script.KindImage},
	}
	for _, tt := range tests {
		p, err := script.ParamOf("v", tt.v)
		require.NoError(t, err)
		require.Equal(t, tt.want, p.Kind)
	}

	_, err = script.ParamOf("v", []int{1})
	require.ErrorIs(t, err, script.ErrUnsupportedType)
	_, err = script.ParamOf("v", (*ndarray.Array)(nil))
	require.ErrorIs(t, err, script.ErrUnsupportedType)
}

func TestParseParam(t *testing.T) {
	p, err := script.ParseParam("n", script.KindInteger, "12")
	require.NoError(t, err)
	lit, err := p.Literal()
	require.NoError(t, err)
	require.Equal(t, "12", lit)

	p, err = script.ParseParam("f", script.KindFloat, "0.1")
	require.NoError(t, err)
	lit, err = p.Literal()
	require.NoError(t, err)
	require.Equal(t, "0.1", lit)

	_, err = script.ParseParam("n", script.KindInteger, "twelve")
	require.Error(t, err)
	_, err = script.ParseParam("img", script.KindImage, "x.tif")
	require.ErrorIs(t, err, script.ErrUnsupportedType)
}

func TestValidate(t *testing.T) {
	require.NoError(t, script.Validate(
		[]script.Param{script.Int("img", 1)},
		[]script.Output{{Name: "img", Kind: script.KindImage}},
	))

	err := script.Validate([]script.Param{script.Int("bad name", 1)}, nil)
	require.ErrorIs(t, err, script.ErrInvalidName)

	err = script.Validate([]script.Param{script.Int("ij", 1)}, nil)
	require.ErrorIs(t, err, script.ErrInvalidName)
	img, err := ndarray.New(ndarray.Uint8, 2, 2)
	require.NoError(t, err)
	err = script.Validate([]script.Param{script.Image("ij", img)}, nil)
	require.ErrorIs(t, err, script.ErrInvalidName)
	err = script.Validate(nil, []script.Output{{Name: "ij", Kind: script.KindImage}})
	require.ErrorIs(t, err, script.ErrInvalidName)
	require.NoError(t, script.Validate([]script.Param{script.Int("ij2", 1)}, nil))

	err = script.Validate([]script.Param{script.Int("a", 1), script.Bool("a", true)}, nil)
	require.ErrorIs(t, err, script.ErrDuplicateName)

	err = script.Validate(nil, []script.Output{{Name: "x"}})
	require.ErrorIs(t, err, script.ErrUnsupportedType)

	err = script.Validate([]script.Param{script.Image("img", nil)}, nil)
	require.ErrorIs(t, err, script.ErrUnsupportedType)
}

func TestCoerce(t *testing.T) {
	str := func(s string) *string { return &s }

	v, ok, err := script.Coerce(script.KindInteger, str("4"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, v)

	v, ok, err = script.Coerce(script.KindBoolean, str("false"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, false, v)

	v, ok, err = script.Coerce(script.KindFloat, str("1.5"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float32(1.5), v)

	v, ok, err = script.Coerce(script.KindDouble, str("NaN"))
	require.NoError(t, err)
	require.True(t, ok)
	require.IsType(t, float64(0), v)

	for _, k := range []script.Kind{script.KindString, script.KindInteger, script.KindDouble} {
		v, ok, err = script.Coerce(k, str("null"))
		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, v)
	}

	_, ok, err = script.Coerce(script.KindString, nil)
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = script.Coerce(script.KindInteger, str("4.5"))
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]script.Kind{
		"String": script.KindString, "bool": script.KindBoolean, "INTEGER": script.KindInteger,
		"float": script.KindFloat, "double": script.KindDouble, "image": script.KindImage,
	} {
		k, err := script.ParseKind(in)
		require.NoError(t, err, in)
		require.Equal(t, want, k, in)
	}
	_, err := script.ParseKind("Long")
	require.ErrorIs(t, err, script.ErrUnsupportedType)
}

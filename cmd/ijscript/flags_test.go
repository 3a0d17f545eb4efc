package main

import (
	"strings"
	"testing"
	"time"

	"ijscript/internal/spec"

	"github.com/stretchr/testify/require"
)

func TestRunFlags_Job(t *testing.T) {
	f := runFlags{
		params:  []string{"sigma:Double=2.5", "label:String=a=b"},
		images:  []string{"img=in.png"},
		outputs: []string{"out:Image", "count:Integer"},
		saves:   []string{"out=out.tif", "mask=mask.png"},
		axes:    "XYZ",
		timeout: 1500,
	}
	job, err := f.job("out = run(img)", "blur.groovy", false)
	require.NoError(t, err)

	require.Equal(t, "blur.groovy", job.Name)
	require.Nil(t, job.Headless)
	require.Equal(t, "XYZ", job.Axes)
	require.Equal(t, 1500, job.TimeoutMS)
	require.Equal(t, []spec.ParamSpec{
		{Name: "sigma", Type: "Double", Value: "2.5"},
		{Name: "label", Type: "String", Value: "a=b"},
		{Name: "img", Type: "Image", File: "in.png"},
	}, job.Params)
	require.Equal(t, []spec.OutputSpec{
		{Name: "out", Type: "Image", File: "out.tif"},
		{Name: "count", Type: "Integer"},
		{Name: "mask", Type: "Image", File: "mask.png"},
	}, job.Outputs)
}

func TestRunFlags_NameAndHeadless(t *testing.T) {
	f := runFlags{name: "x.js", headless: true}
	job, err := f.job("1", "", true)
	require.NoError(t, err)
	require.Equal(t, "x.js", job.Name)
	require.NotNil(t, job.Headless)
	require.True(t, *job.Headless)
}

func TestRunFlags_Invalid(t *testing.T) {
	for _, f := range []runFlags{
		{params: []string{"sigma=2"}},
		{params: []string{":Double=2"}},
		{images: []string{"img"}},
		{outputs: []string{"out"}},
		{saves: []string{"=out.tif"}},
	} {
		_, err := f.job("", "", false)
		require.Error(t, err, "%+v", f)
	}
}

func TestReadScript(t *testing.T) {
	body, name, err := readScript("-", strings.NewReader("print(1)"))
	require.NoError(t, err)
	require.Equal(t, "print(1)", body)
	require.Empty(t, name)

	_, _, err = readScript("/does/not/exist.js", nil)
	require.Error(t, err)
}

func TestParseTimeout(t *testing.T) {
	d, err := parseTimeout("90s")
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)

	d, err = parseTimeout("-1s")
	require.NoError(t, err)
	require.Zero(t, d)

	_, err = parseTimeout("soon")
	require.Error(t, err)
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meni432/hello-cdk-aws-lab/internal/plan"
	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := run(t, "validate", "-f", "testdata/web.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "testdata/web.yaml is valid")
	assert.Contains(t, out, "1 outputs")
	assert.Contains(t, out, "fingerprint: ")
}

func TestValidateHCLMatchesYAML(t *testing.T) {
	yamlOut, err := run(t, "plan", "-f", "testdata/web.yaml", "-o", "json")
	require.NoError(t, err)
	hclOut, err := run(t, "plan", "-f", "testdata/web.hcl", "-o", "json", "--var", "vpc_id=vpc-0abc")
	require.NoError(t, err)

	yamlDoc, err := plan.Decode(strings.NewReader(yamlOut), plan.FormatJSON)
	require.NoError(t, err)
	hclDoc, err := plan.Decode(strings.NewReader(hclOut), plan.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, yamlDoc.Fingerprint, hclDoc.Fingerprint)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "undeclared topic",
			args:     []string{"validate", "-f", "testdata/missing_topic.yaml"},
			wantCode: ExitNotFound,
			wantMsg:  "downloads",
		},
		{
			name:     "port out of range",
			args:     []string{"validate", "-f", "testdata/bad_port.yaml"},
			wantCode: ExitValidation,
			wantMsg:  "99999",
		},
		{
			name:     "missing file",
			args:     []string{"validate", "-f", "testdata/nope.yaml"},
			wantCode: ExitError,
		},
		{
			name:     "static lookup without subnets",
			args:     []string{"validate", "-f", "testdata/web.yaml", "--lookup", "static", "--vpc-id", "vpc-other"},
			wantCode: ExitError,
			wantMsg:  "static lookup",
		},
		{
			name:     "unknown lookup mode",
			args:     []string{"validate", "-f", "testdata/web.yaml", "--lookup", "dns"},
			wantCode: ExitError,
			wantMsg:  "unknown lookup mode",
		},
		{
			name:     "malformed var",
			args:     []string{"validate", "-f", "testdata/web.hcl", "--var", "vpc_id"},
			wantCode: ExitError,
		},
		{
			name:     "malformed role override",
			args:     []string{"validate", "-f", "testdata/web.yaml", "--role-arn", "LabRole"},
			wantCode: ExitValidation,
			wantMsg:  "not an ARN",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ExitCode(err))
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateRequiresFile(t *testing.T) {
	_, err := run(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestPlan(t *testing.T) {
	t.Run("stdout yaml", func(t *testing.T) {
		out, err := run(t, "plan", "-f", "testdata/web.yaml")
		require.NoError(t, err)
		doc, err := plan.Decode(strings.NewReader(out), plan.FormatYAML)
		require.NoError(t, err)
		assert.Equal(t, plan.Version, doc.Version)
		assert.Len(t, doc.Outputs, 1)
	})

	t.Run("out file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plan.json")
		out, err := run(t, "plan", "-f", "testdata/web.yaml", "-o", "json", "--out", path)
		require.NoError(t, err)
		assert.Empty(t, out)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		doc, err := plan.Decode(bytes.NewReader(data), plan.FormatJSON)
		require.NoError(t, err)
		assert.NotEmpty(t, doc.Fingerprint)
	})

	t.Run("key pair override", func(t *testing.T) {
		out, err := run(t, "plan", "-f", "testdata/web.yaml", "-o", "json", "--key-pair", "vockey")
		require.NoError(t, err)
		assert.Contains(t, out, `"key_pair": "vockey"`)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := run(t, "plan", "-f", "testdata/web.yaml", "-o", "toml")
		assert.Error(t, err)
	})

	t.Run("out and publish", func(t *testing.T) {
		_, err := run(t, "plan", "-f", "testdata/web.yaml", "--out", "plan.yaml", "--publish", "s3://plans/plan.yaml")
		assert.Error(t, err)
	})

	t.Run("bad publish uri", func(t *testing.T) {
		_, err := run(t, "plan", "-f", "testdata/web.yaml", "--publish", "plans/plan.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "s3://")
	})
}

type failingCloser struct {
	closed bool
}

func (c *failingCloser) Close() error {
	c.closed = true
	return errors.New("disk full")
}

type failingApplier struct{}

func (failingApplier) Apply(context.Context, *topology.Graph) error {
	return errors.New("encode failed")
}

func TestApplyAndClose(t *testing.T) {
	g, err := topology.NewBuilder().Build()
	require.NoError(t, err)

	t.Run("close error", func(t *testing.T) {
		c := &failingCloser{}
		err := applyAndClose(context.Background(), &plan.Writer{W: io.Discard, Format: plan.FormatYAML}, g, c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.True(t, c.closed)
	})

	t.Run("apply error wins", func(t *testing.T) {
		c := &failingCloser{}
		err := applyAndClose(context.Background(), failingApplier{}, g, c)
		require.EqualError(t, err, "encode failed")
		assert.True(t, c.closed)
	})
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("TOPOLOGY_LOOKUP", "dns")
	_, err := run(t, "validate", "-f", "testdata/web.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"dns"`)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "topologyctl dev")
	assert.Contains(t, out, "Go: go")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitValidation, ExitCode(fmt.Errorf("compile: %w", &topology.ValidationError{Field: "port", Reason: "bad"})))
	assert.Equal(t, ExitNotFound, ExitCode(&topology.NotFoundError{Kind: topology.KindTopic, ID: "x"}))
}

package html_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/render/html"
	"github.com/mickamy/rockscope/test"
)

func TestRenderLakeScanHTML(t *testing.T) {
	t.Parallel()

	result := test.LoadSampleResult(t, "lake_scan.txt")

	var buf bytes.Buffer
	require.NoError(t, html.Render(&buf, result, html.Options{Title: "test", IncludeStyles: true}))
	out := buf.String()

	assert.Contains(t, out, "<title>test</title>")
	assert.Contains(t, out, "<style>")
	assert.Contains(t, out, "Insights")
	assert.Contains(t, out, `id="olap-scan-node-0"`)
	assert.Contains(t, out, `href="#olap-scan-node-0"`)
	assert.Contains(t, out, "OLAP_SCAN #0 orders")
	assert.Contains(t, out, "most time consuming")
	assert.Contains(t, out, "MemoryUsage")
	assert.Contains(t, out, "Query 3b6d1f20-6a4e-11ef-b7c1-0242ac120003")
	assert.Contains(t, out, "10.50 GiB")
}

func TestRenderHealthyHTMLWithoutStyles(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, html.Render(&buf, test.LoadSampleResult(t, "schema_scan.txt"), html.Options{}))
	out := buf.String()

	assert.Contains(t, out, "<title>rockscope report</title>")
	assert.NotContains(t, out, "<style>")
	assert.Contains(t, out, "No hotspots detected")
	assert.Contains(t, out, "SCHEMA_SCAN #0")
}

func TestRenderRejectsEmptyAnalysis(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.Error(t, html.Render(&buf, nil, html.Options{}))
	assert.Error(t, html.Render(&buf, &model.AnalysisResult{}, html.Options{}))
}

package caselist

import (
	"caselist-scout/internal/components/telemetry"
	"caselist-scout/internal/pipeline"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testContent(t *testing.T, address, body string) pipeline.Content {
	u, err := url.Parse(address)
	require.NoError(t, err)
	return pipeline.Content{Address: u, Body: []byte(body)}
}

const groupPage = `<html><body>
<h1>Harvard</h1>
<table>
	<tr><th>Team</th><th>Aff</th><th>Neg</th></tr>
	<tr>
		<td><a href="/ndtceda25/Harvard/SmJo">Harvard SmJo</a></td>
		<td><a href="/ndtceda25/Harvard/SmJo/Aff">Aff</a></td>
		<td><a href="/ndtceda25/Harvard/SmJo/Neg">Neg</a></td>
	</tr>
	<tr>
		<td><a href="/ndtceda25/Harvard/DoRo">Harvard DoRo</a></td>
		<td><a href="/ndtceda25/Harvard/DoRo/Aff">Aff</a></td>
		<td><a href="/ndtceda25/Harvard/DoRo/Neg">Neg</a></td>
	</tr>
</table>
<a href="/ndtceda25/Harvard/All">All</a>
<a href="/ndtceda25/Harvard/SmJo">Harvard SmJo</a>
<a href="/ndtceda25/Harvard/Empty"> </a>
<a href="/ndtceda25/HarvardWestlake/AbCd">Westlake AbCd</a>
<a href="/ndtceda25">Back</a>
</body></html>`

func TestListLeafUnits(t *testing.T) {
	parser := NewParser(DefaultParserOptions(), telemetry.NoopAPI{})

	units, shape := parser.ListLeafUnits(
		testContent(t, "https://opencaselist.com/ndtceda25/Harvard", groupPage),
		"Harvard",
	)
	require.Equal(t, pipeline.SHAPE_TABLE, shape)
	require.Empty(t, cmp.Diff([]pipeline.LeafUnitRef{
		{Name: "Harvard SmJo", Address: "https://opencaselist.com/ndtceda25/Harvard/SmJo"},
		{Name: "Harvard DoRo", Address: "https://opencaselist.com/ndtceda25/Harvard/DoRo"},
	}, units))
}

func TestListLeafUnitsPlaceholder(t *testing.T) {
	parser := NewParser(DefaultParserOptions(), telemetry.NoopAPI{})

	placeholder := `<html><body><div>2025-2026</div><div>2024-2025</div></body></html>`
	units, shape := parser.ListLeafUnits(testContent(t, "https://opencaselist.com/ndtceda25/Harvard", placeholder), "Harvard")
	require.Empty(t, units)
	require.Equal(t, pipeline.SHAPE_PLACEHOLDER, shape)

	empty := `<html><body><div>2025-2026</div><div>2024-2025</div><th>Team</th></body></html>`
	units, shape = parser.ListLeafUnits(testContent(t, "https://opencaselist.com/ndtceda25/Harvard", empty), "Harvard")
	require.Empty(t, units)
	require.Equal(t, pipeline.SHAPE_UNRECOGNIZED, shape)
}

func TestGroupSlug(t *testing.T) {
	require.Equal(t, "Harvard", GroupSlug("Harvard"))
	require.Equal(t, "CalBerkeley", GroupSlug("Cal Berkeley"))
	require.Equal(t, "GeorgeMason", GroupSlug("George-Mason"))
	require.Equal(t, "WakeForest", GroupSlug("Wake  Forest"))
}

const unitPage = `<html><body>
<table><tr><td>Navigation</td></tr></table>
<table>
	<thead><tr><th>Tournament</th><th>Round</th><th>Side</th><th>Opponent</th><th>Judge</th><th>Round Report</th><th>Open Source</th></tr></thead>
	<tbody>
	<tr>
		<td>Kentucky</td><td>1</td><td>Aff</td><td>Michigan KL</td><td>Smith</td><td>1AC  Plan
		text</td>
		<td><a href="/ndtceda25/Harvard/SmJo/preview?path=ndtceda25%2FHarvard%2FSmJo%2Fdoc.docx">doc</a></td>
	</tr>
	<tr><td>Kentucky</td><td>2</td><td>Neg</td></tr>
	<tr><td></td><td>3</td><td>Aff</td><td>x</td><td>y</td><td>z</td></tr>
	<tr><td>Short</td><td>row</td></tr>
	</tbody>
</table>
</body></html>`

func TestExtractRecords(t *testing.T) {
	parser := NewParser(DefaultParserOptions(), telemetry.NoopAPI{})

	records, shape := parser.ExtractRecords(testContent(t, "https://opencaselist.com/ndtceda25/Harvard/SmJo", unitPage))
	require.Equal(t, pipeline.SHAPE_TABLE, shape)

	expected := []pipeline.Record{
		{
			SourceLabel:   "Kentucky",
			SequenceLabel: "1",
			Side:          "Aff",
			Counterpart:   "Michigan KL",
			Adjudicator:   "Smith",
			Note:          "1AC Plan text",
			Attachment: &pipeline.Attachment{
				PreviewUrl:  "https://opencaselist.com/ndtceda25/Harvard/SmJo/preview?path=ndtceda25%2FHarvard%2FSmJo%2Fdoc.docx",
				DownloadUrl: "https://api.opencaselist.com/v1/download?path=ndtceda25%2FHarvard%2FSmJo%2Fdoc.docx",
			},
		},
		{SourceLabel: "Kentucky", SequenceLabel: "2", Side: "Neg"},
		// invalid rows are still returned, filtering is up to the pipeline
		{SequenceLabel: "3", Side: "Aff", Counterpart: "x", Adjudicator: "y", Note: "z"},
	}
	require.Empty(t, cmp.Diff(expected, records))
}

func TestExtractRecordsShapes(t *testing.T) {
	parser := NewParser(DefaultParserOptions(), telemetry.NoopAPI{})
	address := "https://opencaselist.com/ndtceda25/Harvard/SmJo"

	table := []struct {
		name  string
		body  string
		shape pipeline.PageShape
		count int
	}{
		{
			name:  "empty state without table",
			body:  `<html><body><p>No rounds yet, add one!</p></body></html>`,
			shape: pipeline.SHAPE_EMPTY,
		},
		{
			name: "empty state with header only table",
			body: `<html><body><table><tr><th>Tournament</th><th>Round</th><th>Side</th></tr></table>
				<p>No rounds yet, add one!</p></body></html>`,
			shape: pipeline.SHAPE_EMPTY,
		},
		{
			name:  "header only table",
			body:  `<html><body><table><tr><th>Tournament</th><th>Round</th><th>Side</th></tr></table></body></html>`,
			shape: pipeline.SHAPE_TABLE,
		},
		{
			name:  "still loading",
			body:  `<html><body><div>2025-2026</div><div>2024-2025</div></body></html>`,
			shape: pipeline.SHAPE_PLACEHOLDER,
		},
		{
			name:  "unrelated page",
			body:  `<html><body><table><tr><th>Name</th></tr></table></body></html>`,
			shape: pipeline.SHAPE_UNRECOGNIZED,
		},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			records, shape := parser.ExtractRecords(testContent(t, address, row.body))
			require.Equal(t, row.shape, shape)
			require.Len(t, records, row.count)
		})
	}
}

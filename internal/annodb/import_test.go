package annodb

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomeforge/engine/internal/schema"
)

const clinvarCSV = `rsid,gene,condition,significance,review_stars
rs429358,APOE,Alzheimer disease,pathogenic,4
rs7412,APOE,Hyperlipoproteinemia,benign,3
rs1042522,TP53,Li-Fraumeni syndrome,uncertain_significance,2
`

func TestImport_CSVWithPredefinedSchema(t *testing.T) {
	m := newTestManager(t)

	res, err := m.ImportReader(strings.NewReader(clinvarCSV), ImportOptions{
		Name:       "clinvar-subset",
		SchemaName: "clinvar",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, FormatCSV, res.Format)
	assert.Equal(t, 3, res.Imported)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Duplicates)

	db, err := m.Get(res.DatabaseID)
	require.NoError(t, err)
	assert.Equal(t, 3, db.Meta.RecordCount)

	recs, err := m.FindByRSID([]string{"rs429358"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	gene, _ := recs[0].Field("gene")
	assert.Equal(t, "APOE", gene)
}

func TestImport_RejectsInvalidByDefault(t *testing.T) {
	m := newTestManager(t)

	// No skip requested: one out-of-range row rejects the whole import.
	input := "rsid,global_frequency\nrs123,0.42\nrs456,1.5\n"
	res, err := m.ImportReader(strings.NewReader(input), ImportOptions{
		Name:       "freqs",
		SchemaName: "frequency",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.DatabaseID)
	assert.Zero(t, res.Imported)
	assert.Equal(t, 1, res.Skipped)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Row)
	require.NotEmpty(t, res.Errors[0].Errors)
	assert.Equal(t, schema.ErrOutOfRange, res.Errors[0].Errors[0].Code)

	// Nothing was persisted.
	dbs, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, dbs)
}

func TestImport_SkipInvalidImportsTheRest(t *testing.T) {
	m := newTestManager(t)

	input := "rsid,global_frequency\nrs123,0.42\nrs456,1.5\nrs789,0.01\n"
	res, err := m.ImportReader(strings.NewReader(input), ImportOptions{
		Name:        "freqs",
		SchemaName:  "frequency",
		SkipInvalid: true,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Errors, 1)
}

func TestImport_ErrorSampleBounded(t *testing.T) {
	m := newTestManager(t)

	var sb strings.Builder
	sb.WriteString("rsid,global_frequency\n")
	for i := 0; i < 25; i++ {
		sb.WriteString("rs1,2.0\n")
	}
	res, err := m.ImportReader(strings.NewReader(sb.String()), ImportOptions{
		Name:       "all-bad",
		SchemaName: "frequency",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 25, res.Skipped)
	assert.Len(t, res.Errors, errorSampleSize)
}

func TestImport_DuplicatesLastWins(t *testing.T) {
	m := newTestManager(t)

	input := "rsid,global_frequency\nrs10,0.10\nrs10,0.20\n"
	res, err := m.ImportReader(strings.NewReader(input), ImportOptions{
		Name:       "dups",
		SchemaName: "frequency",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Duplicates)

	recs, err := m.FindByRSID([]string{"rs10"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	freq, _ := recs[0].Field("global_frequency")
	assert.Equal(t, 0.20, freq)
}

func TestImport_TSVAndAutoDetect(t *testing.T) {
	m := newTestManager(t)

	input := "rsid\tgene\tscore\nrs1\tBRCA1\t0.9\nrs2\tTP53\t0.4\n"
	res, err := m.ImportReader(strings.NewReader(input), ImportOptions{Name: "detected"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, FormatTSV, res.Format)
	assert.Equal(t, 2, res.Imported)

	db, err := m.Get(res.DatabaseID)
	require.NoError(t, err)
	f := db.Schema.FieldByName("rsid")
	require.NotNil(t, f)
	assert.Equal(t, schema.TypeRSID, f.Type)
}

func TestImport_JSONArray(t *testing.T) {
	m := newTestManager(t)

	input := `[
	  {"rsid": "rs429358", "condition": "Alzheimer disease", "significance": "pathogenic"},
	  {"rsid": "rs7412", "condition": "Hyperlipoproteinemia", "significance": "benign"}
	]`
	res, err := m.ImportReader(strings.NewReader(input), ImportOptions{
		Name:       "json-clinvar",
		SchemaName: "clinvar",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, FormatJSON, res.Format)
	assert.Equal(t, 2, res.Imported)
}

func TestImport_VCFRows(t *testing.T) {
	m := newTestManager(t)

	input := "##fileformat=VCFv4.2\n" +
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n" +
		"chr1\t12345\trs100\tA\tG\t.\tPASS\tGENE=BRCA2;AF=0.01\n" +
		"2\t500\trs200\tC\tT\t.\tPASS\tGENE=MLH1;AF=0.20\n"
	res, err := m.ImportReader(strings.NewReader(input), ImportOptions{Name: "vcf-import"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, FormatVCF, res.Format)
	assert.Equal(t, 2, res.Imported)

	recs, err := m.FindByRSID([]string{"rs100"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	chrom, _ := recs[0].Field("chromosome")
	assert.Equal(t, "1", chrom)
	gene, _ := recs[0].Field("gene")
	assert.Equal(t, "BRCA2", gene)
}

func TestImport_Gzipped(t *testing.T) {
	m := newTestManager(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(clinvarCSV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	res, err := m.ImportReader(&buf, ImportOptions{Name: "gz", SchemaName: "clinvar"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 3, res.Imported)
}

func TestImport_Append(t *testing.T) {
	m := newTestManager(t)

	first, err := m.ImportReader(strings.NewReader("rsid,global_frequency\nrs1,0.1\n"), ImportOptions{
		Name:       "base",
		SchemaName: "frequency",
	})
	require.NoError(t, err)

	second, err := m.ImportReader(strings.NewReader("rsid,global_frequency\nrs2,0.2\n"), ImportOptions{
		SchemaName: "frequency",
		Append:     first.DatabaseID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.DatabaseID, second.DatabaseID)

	db, err := m.Get(first.DatabaseID)
	require.NoError(t, err)
	assert.Equal(t, 2, db.Meta.RecordCount)
}

func TestSniffFormat(t *testing.T) {
	cases := []struct {
		input string
		want  FileFormat
	}{
		{`[{"a":1}]`, FormatJSON},
		{`{"a":1}`, FormatJSON},
		{"##fileformat=VCFv4.2\n#CHROM\t...", FormatVCF},
		{"#CHROM\tPOS\tID\n", FormatVCF},
		{"a\tb\tc\n1\t2\t3\n", FormatTSV},
		{"a,b,c\n1,2,3\n", FormatCSV},
	}
	for _, tc := range cases {
		got, err := sniffFormat(bufio.NewReader(strings.NewReader(tc.input)))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "input %q", tc.input)
	}
}

func TestFormatFromExtension(t *testing.T) {
	assert.Equal(t, FormatJSON, formatFromExtension("/tmp/db.json"))
	assert.Equal(t, FormatJSON, formatFromExtension("/tmp/db.json.gz"))
	assert.Equal(t, FormatVCF, formatFromExtension("annotations.vcf.gz"))
	assert.Equal(t, FormatTSV, formatFromExtension("table.tsv"))
	assert.Equal(t, FormatCSV, formatFromExtension("table.csv"))
	assert.Equal(t, FileFormat(""), formatFromExtension("mystery.dat"))
}

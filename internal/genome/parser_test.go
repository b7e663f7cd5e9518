package genome

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twentyThreeAndMeSample = `# This data file generated by 23andMe at: Sat Jan 01 00:00:00 2022
# rsid	chromosome	position	genotype
rs4477212	1	82154	AA
rs3094315	1	752566	AG
rs3131972	1	752721	GG
i3000001	MT	16023	A
rs9999999	chrX	1000	--
`

func parseString(t *testing.T, input string, opts ParseOptions) *Genome {
	t.Helper()
	g, err := Parse(strings.NewReader(input), opts)
	require.NoError(t, err)
	return g
}

func TestParse_23andMe(t *testing.T) {
	g := parseString(t, twentyThreeAndMeSample, DefaultParseOptions())

	assert.Equal(t, Format23andMeV5, g.Format)
	assert.Equal(t, 5, g.Stats.ParsedVariants)
	assert.Equal(t, 0, g.Stats.SkippedLines)

	v := g.Variants["rs4477212"]
	require.NotNil(t, v)
	assert.Equal(t, "rs4477212", v.ID)
	assert.Equal(t, "1", v.Chromosome)
	assert.Equal(t, int64(82154), v.Position)
	assert.Equal(t, "AA", v.Genotype)
	assert.Equal(t, "A", v.Allele1)
	assert.Equal(t, "A", v.Allele2)

	// Haploid mitochondrial call doubles the single allele.
	assert.Equal(t, "AA", g.Variants["i3000001"].Genotype)
	// chrX normalizes to X.
	assert.Equal(t, "X", g.Variants["rs9999999"].Chromosome)
}

func TestParse_NoCallNormalization(t *testing.T) {
	// Every no-call convention ends up as the sentinel pair and the line is
	// not counted as skipped.
	tests := []struct {
		name  string
		input string
	}{
		{"23andme double dash", "# 23andMe\nrs1000\t1\t100\t--\n"},
		{"23andme zeros", "# 23andMe\nrs1000\t1\t100\t00\n"},
		{"ancestry zero allele", "#AncestryDNA\nrs1000,1,100,0,0\n"},
		{"myheritage", "\"RSID\",\"CHROMOSOME\",\"POSITION\",\"RESULT\"\n\"rs1000\",\"1\",\"100\",\"--\"\n"},
		{"livingdna missing column", "# Living DNA\nrsid\tchromosome\tposition\nrs1000\t1\t100\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := parseString(t, tt.input, DefaultParseOptions())
			v := g.Variants["rs1000"]
			require.NotNil(t, v)
			assert.Equal(t, NoCall, v.Genotype)
			assert.True(t, v.IsNoCall())
			assert.Equal(t, NoCallAllele, v.Allele1)
			assert.Equal(t, NoCallAllele, v.Allele2)
			assert.Equal(t, 0, g.Stats.SkippedLines)
		})
	}
}

func TestParse_AncestryAlleles(t *testing.T) {
	input := "#AncestryDNA raw data download\nrsid,chromosome,position,allele1,allele2\nrs1000,2,5000,A,G\n"
	g := parseString(t, input, DefaultParseOptions())

	require.Equal(t, FormatAncestry, g.Format)
	v := g.Variants["rs1000"]
	require.NotNil(t, v)
	assert.Equal(t, "AG", v.Genotype)
	assert.Equal(t, "A", v.Allele1)
	assert.Equal(t, "G", v.Allele2)
}

func TestParse_MyHeritage(t *testing.T) {
	input := "# MyHeritage DNA raw data.\n\"RSID\",\"CHROMOSOME\",\"POSITION\",\"RESULT\"\n\"rs1000\",\"chr7\",\"117559590\",\"CT\"\n"
	g := parseString(t, input, DefaultParseOptions())

	require.Equal(t, FormatMyHeritage, g.Format)
	v := g.Variants["rs1000"]
	require.NotNil(t, v)
	assert.Equal(t, "7", v.Chromosome)
	assert.Equal(t, int64(117559590), v.Position)
	assert.Equal(t, "CT", v.Genotype)
}

func TestParse_FamilyTreeDNA(t *testing.T) {
	input := "RSID,CHROMOSOME,POSITION,RESULT\nrs1000,M,150,GG\n"
	g := parseString(t, input, DefaultParseOptions())

	require.Equal(t, FormatFTDNA, g.Format)
	v := g.Variants["rs1000"]
	require.NotNil(t, v)
	assert.Equal(t, "MT", v.Chromosome)
}

func TestParse_VCF(t *testing.T) {
	input := strings.Join([]string{
		"##fileformat=VCFv4.2",
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tSAMPLE1",
		"1\t82154\trs4477212\tA\tG\t.\tPASS\tAF=0.1\tGT:DP\t0/1:35",
		"2\t100\trs2000\tAT\tA\t.\tPASS\t.\tGT\t1/1",
		"3\t200\trs3000\tC\t.\t.\tPASS\t.\tGT\t./.",
	}, "\n") + "\n"

	g := parseString(t, input, DefaultParseOptions())
	require.Equal(t, FormatVCF, g.Format)

	assert.Equal(t, "AG", g.Variants["rs4477212"].Genotype)
	// Deletion alleles map to the consumer D convention.
	assert.Equal(t, "DD", g.Variants["rs2000"].Genotype)
	// Missing GT is a no-call, not a skipped line.
	assert.Equal(t, NoCall, g.Variants["rs3000"].Genotype)
	assert.Equal(t, 0, g.Stats.SkippedLines)
}

func TestParse_UnknownFormat(t *testing.T) {
	_, err := Parse(strings.NewReader("hello world\nnot a genome\n"), DefaultParseOptions())
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrUnknownFormat, perr.Code)
}

func TestParse_DuplicateIDOverwrites(t *testing.T) {
	input := "# 23andMe\nrs1000\t1\t100\tAA\nrs1000\t1\t200\tCC\n"
	g := parseString(t, input, DefaultParseOptions())

	require.NotNil(t, g.Variants["rs1000"])
	assert.Equal(t, int64(200), g.Variants["rs1000"].Position)
	assert.Equal(t, "CC", g.Variants["rs1000"].Genotype)
	assert.Equal(t, 1, g.Stats.DuplicateIDs)
	assert.NotEmpty(t, g.Warnings)
}

func TestParse_InvalidLines(t *testing.T) {
	input := "# 23andMe\nrs1000\t1\t100\tAA\nbogus\t99\tx\tZZ\nrs2000\t2\t300\tCT\n"

	t.Run("skip", func(t *testing.T) {
		g := parseString(t, input, ParseOptions{ValidateGenotypes: true, SkipInvalidLines: true})
		assert.Equal(t, 1, g.Stats.SkippedLines)
		assert.Equal(t, 2, g.Stats.ParsedVariants)
		require.Len(t, g.Errors, 1)
		assert.Equal(t, ErrInvalidLine, g.Errors[0].Code)
		assert.Contains(t, g.Errors[0].Content, "bogus")
	})

	t.Run("strict aborts with line content", func(t *testing.T) {
		_, err := Parse(strings.NewReader(input), ParseOptions{ValidateGenotypes: true})
		require.Error(t, err)
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrInvalidLine, perr.Code)
		assert.Contains(t, perr.Content, "bogus")
	})

	t.Run("max errors is fatal even when skipping", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("# 23andMe\nrs1\t1\t100\tAA\n")
		for i := 0; i < 5; i++ {
			b.WriteString("bad line\n")
		}
		_, err := Parse(strings.NewReader(b.String()), ParseOptions{SkipInvalidLines: true, MaxErrors: 3})
		require.Error(t, err)
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrTooManyErrors, perr.Code)
	})
}

func TestParse_ProgressPhases(t *testing.T) {
	var phases []Phase
	opts := DefaultParseOptions()
	opts.Progress = func(u ProgressUpdate) { phases = append(phases, u.Phase) }

	parseString(t, twentyThreeAndMeSample, opts)
	assert.Equal(t, []Phase{PhaseDetecting, PhaseParsing, PhaseValidating, PhaseComplete}, phases)
}

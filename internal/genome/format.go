package genome

import "regexp"

// Format identifies the raw file layout a genome was parsed from.
type Format string

// Supported raw file formats.
const (
	FormatUnknown    Format = "unknown"
	Format23andMeV3  Format = "23andme_v3"
	Format23andMeV4  Format = "23andme_v4"
	Format23andMeV5  Format = "23andme_v5"
	FormatAncestry   Format = "ancestrydna"
	FormatMyHeritage Format = "myheritage"
	FormatFTDNA      Format = "ftdna"
	FormatLivingDNA  Format = "livingdna"
	FormatVCF        Format = "vcf"
)

// detectLines is how many leading lines are scanned for a format signature.
const detectLines = 20

type formatSignature struct {
	format  Format
	pattern *regexp.Regexp
}

// signatures is ordered most-specific-first: the bare comma header for
// FamilyTreeDNA must come after MyHeritage's quoted header, and the bare
// tab-separated data patterns come last because vendor comment headers are
// more specific than data-line shapes.
var signatures = []formatSignature{
	{FormatVCF, regexp.MustCompile(`^##fileformat=VCF`)},
	{FormatVCF, regexp.MustCompile(`^#CHROM\t`)},
	{Format23andMeV5, regexp.MustCompile(`(?i)^#.*23andMe.*\bv5\b`)},
	{Format23andMeV4, regexp.MustCompile(`(?i)^#.*23andMe.*\bv4\b`)},
	{Format23andMeV3, regexp.MustCompile(`(?i)^#.*23andMe.*\bv3\b`)},
	{Format23andMeV5, regexp.MustCompile(`(?i)^#.*23andMe`)},
	{FormatAncestry, regexp.MustCompile(`(?i)^#.*AncestryDNA`)},
	{FormatAncestry, regexp.MustCompile(`(?i)^rsid,chromosome,position,allele1,allele2\s*$`)},
	{FormatMyHeritage, regexp.MustCompile(`(?i)^#.*MyHeritage`)},
	{FormatMyHeritage, regexp.MustCompile(`(?i)^"RSID","CHROMOSOME","POSITION","RESULT"`)},
	{FormatFTDNA, regexp.MustCompile(`(?i)^#.*Family\s?Tree\s?DNA`)},
	{FormatFTDNA, regexp.MustCompile(`(?i)^RSID,CHROMOSOME,POSITION,RESULT\s*$`)},
	{FormatLivingDNA, regexp.MustCompile(`(?i)^#.*Living\s?DNA`)},
	{Format23andMeV5, regexp.MustCompile(`^(rs|i)\d+\t\S+\t\d+\t[ATCG\-ID0]{1,2}\s*$`)},
	{FormatLivingDNA, regexp.MustCompile(`^(rs|i)\d+\t\S+\t\d+\s*$`)},
	{FormatAncestry, regexp.MustCompile(`^(rs|i)\d+,\S+,\d+,[ATCG0],[ATCG0]\s*$`)},
	{FormatMyHeritage, regexp.MustCompile(`^"(rs|i)\d+",`)},
}

// DetectFormat scans lines (at most the first 20) against the ordered
// signature list and returns the first format whose pattern matches any of
// them, or FormatUnknown.
func DetectFormat(lines []string) Format {
	if len(lines) > detectLines {
		lines = lines[:detectLines]
	}
	for _, sig := range signatures {
		for _, line := range lines {
			if sig.pattern.MatchString(line) {
				return sig.format
			}
		}
	}
	return FormatUnknown
}

// is23andMe groups the three 23andMe chip versions, which share one column
// layout.
func is23andMe(f Format) bool {
	switch f {
	case Format23andMeV3, Format23andMeV4, Format23andMeV5:
		return true
	}
	return false
}

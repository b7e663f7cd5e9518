package genome

// Build identifies a reference genome coordinate system.
type Build string

// Known reference builds.
const (
	BuildUnknown Build = "unknown"
	BuildGRCh36  Build = "GRCh36"
	BuildGRCh37  Build = "GRCh37"
	BuildGRCh38  Build = "GRCh38"
)

// buildConfidenceThreshold is the minimum fraction of reference positions
// that must agree before a build is declared.
const buildConfidenceThreshold = 0.8

type buildPositions struct {
	grch36 int64
	grch37 int64
	grch38 int64
}

// referencePositions maps well-known rsIDs to their position under each
// supported build. The set is small on purpose: a dozen widely-genotyped
// markers spread across chromosomes is enough to separate the builds.
var referencePositions = map[string]buildPositions{
	"rs4477212":  {72017, 82154, 16742},          // 1
	"rs3094315":  {742429, 752566, 817186},       // 1
	"rs3131972":  {742584, 752721, 817341},       // 1
	"rs12124819": {766409, 776546, 841166},       // 1
	"rs11240777": {788822, 798959, 863579},       // 1
	"rs1801133":  {11778965, 11856378, 11796321}, // 1, MTHFR
	"rs4988235":  {136325116, 136608646, 135851076}, // 2, LCT
	"rs53576":    {8779371, 8804371, 8762685},    // 3, OXTR
	"rs1800562":  {26201120, 26093141, 26092913}, // 6, HFE
	"rs1815739":  {66084671, 66328095, 66560624}, // 11, ACTN3
	"rs429358":   {50103781, 45411941, 44908684}, // 19, APOE
	"rs7412":     {50103919, 45412079, 44908822}, // 19, APOE
}

// InferBuild checks every reference rsID present in the genome against the
// known per-build positions and returns the best-matching build with its
// confidence (best matches / reference ids checked). The build stays unknown
// below the confidence threshold.
func InferBuild(variants map[string]*Variant) (Build, float64) {
	var checked, m36, m37, m38 int

	for id, pos := range referencePositions {
		v, ok := variants[id]
		if !ok {
			continue
		}
		checked++
		switch v.Position {
		case pos.grch36:
			m36++
		case pos.grch37:
			m37++
		case pos.grch38:
			m38++
		}
	}

	if checked == 0 {
		return BuildUnknown, 0
	}

	best, build := m37, BuildGRCh37
	if m38 > best {
		best, build = m38, BuildGRCh38
	}
	if m36 > best {
		best, build = m36, BuildGRCh36
	}

	confidence := float64(best) / float64(checked)
	if confidence < buildConfidenceThreshold {
		return BuildUnknown, confidence
	}
	return build, confidence
}

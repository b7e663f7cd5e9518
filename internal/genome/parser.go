package genome

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// ErrorCode classifies a fatal parse failure.
type ErrorCode string

// Fatal parse error codes.
const (
	ErrUnknownFormat ErrorCode = "UNKNOWN_FORMAT"
	ErrInvalidLine   ErrorCode = "INVALID_LINE"
	ErrTooManyErrors ErrorCode = "TOO_MANY_ERRORS"
	ErrRead          ErrorCode = "READ_ERROR"
)

// ParseError is a fatal parsing failure with line context.
type ParseError struct {
	Code    ErrorCode
	Line    int
	Content string
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("genome parse error at line %d (%s): %s", e.Line, e.Code, e.Message)
	}
	return fmt.Sprintf("genome parse error (%s): %s", e.Code, e.Message)
}

// Phase names one stage of a parse run, in order.
type Phase string

// Parse phases reported through ProgressUpdate.
const (
	PhaseDetecting  Phase = "detecting"
	PhaseParsing    Phase = "parsing"
	PhaseValidating Phase = "validating"
	PhaseComplete   Phase = "complete"
)

// ProgressUpdate is delivered at phase boundaries and every progressEvery
// lines while parsing.
type ProgressUpdate struct {
	Phase    Phase
	Lines    int
	Variants int
}

// progressEvery is the line interval between progress callbacks during the
// parsing phase.
const progressEvery = 10000

// defaultMaxErrors caps skipped lines before the parse aborts.
const defaultMaxErrors = 1000

// ParseOptions controls validation strictness and progress reporting.
type ParseOptions struct {
	// ValidateGenotypes rejects lines whose genotype characters fall
	// outside the allowed allele set.
	ValidateGenotypes bool
	// SkipInvalidLines counts bad lines as skipped instead of failing on
	// the first one.
	SkipInvalidLines bool
	// MaxErrors caps skipped lines regardless of SkipInvalidLines;
	// 0 means the default cap of 1000.
	MaxErrors int
	// Progress, when set, receives phase and line-interval updates.
	Progress func(ProgressUpdate)
}

// DefaultParseOptions are the options the CLI and batch pipeline use.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		ValidateGenotypes: true,
		SkipInvalidLines:  true,
	}
}

// ParseFile parses a raw genome file. Gzipped input is recognized by magic
// bytes, matching the compressed downloads every vendor offers.
func ParseFile(path string, opts ParseOptions) (*Genome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genome file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 2)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("read genome file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek genome file: %w", err)
	}

	if buf[0] == 0x1f && buf[1] == 0x8b {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer gz.Close()
		return Parse(gz, opts)
	}
	return Parse(f, opts)
}

// Parse reads a raw genome from r: it detects the format from the first 20
// lines, parses every data line into a Variant and infers the reference
// build. Recoverable issues (skipped lines, duplicate ids, low build
// confidence) surface as warnings and counts, never as errors.
func Parse(r io.Reader, opts ParseOptions) (*Genome, error) {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultMaxErrors
	}

	p := &parser{
		opts: opts,
		genome: &Genome{
			ID:       uuid.NewString(),
			Build:    BuildUnknown,
			Variants: make(map[string]*Variant),
		},
	}
	return p.run(r)
}

type parser struct {
	opts   ParseOptions
	format Format
	genome *Genome
	line   int
}

func (p *parser) progress(phase Phase) {
	if p.opts.Progress != nil {
		p.opts.Progress(ProgressUpdate{
			Phase:    phase,
			Lines:    p.line,
			Variants: len(p.genome.Variants),
		})
	}
}

func (p *parser) run(r io.Reader) (*Genome, error) {
	p.progress(PhaseDetecting)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	// Buffer the detection window, then replay it through the line parser
	// once the format is known.
	var head []string
	for len(head) < detectLines && scanner.Scan() {
		head = append(head, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Code: ErrRead, Message: err.Error()}
	}

	p.format = DetectFormat(head)
	if p.format == FormatUnknown {
		return nil, &ParseError{Code: ErrUnknownFormat, Message: "no known genome file format signature matched"}
	}
	p.genome.Format = p.format

	p.progress(PhaseParsing)

	for _, line := range head {
		if err := p.consume(line); err != nil {
			return nil, err
		}
	}
	for scanner.Scan() {
		if err := p.consume(strings.TrimRight(scanner.Text(), "\r")); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Code: ErrRead, Message: err.Error()}
	}

	p.progress(PhaseValidating)

	build, confidence := InferBuild(p.genome.Variants)
	p.genome.Build = build
	p.genome.BuildConfidence = confidence
	if build == BuildUnknown && len(p.genome.Variants) > 0 {
		p.warn(fmt.Sprintf("reference build could not be determined (confidence %.2f)", confidence))
	}

	p.progress(PhaseComplete)
	return p.genome, nil
}

// consume handles one raw line: comments and headers are skipped for free,
// data lines go through the per-format parser, and failures follow the
// skip/abort policy.
func (p *parser) consume(line string) error {
	p.line++
	p.genome.Stats.TotalLines++

	if p.line%progressEvery == 0 {
		p.progress(PhaseParsing)
	}

	if line == "" || strings.HasPrefix(line, "#") || p.isHeader(line) {
		return nil
	}

	v, reason := p.parseLine(line)
	if v == nil {
		return p.skip(line, reason)
	}

	if prev, dup := p.genome.Variants[v.ID]; dup {
		p.genome.Stats.DuplicateIDs++
		p.warn(fmt.Sprintf("line %d: duplicate id %s overwrites earlier entry at %s:%d",
			p.line, v.ID, prev.Chromosome, prev.Position))
	}
	p.genome.Variants[v.ID] = v
	p.genome.Stats.ParsedVariants = len(p.genome.Variants)
	return nil
}

func (p *parser) skip(line, reason string) error {
	p.genome.Stats.SkippedLines++

	perr := &ParseError{
		Code:    ErrInvalidLine,
		Line:    p.line,
		Content: line,
		Message: reason,
	}
	if !p.opts.SkipInvalidLines {
		return perr
	}
	if p.genome.Stats.SkippedLines > p.opts.MaxErrors {
		return &ParseError{
			Code:    ErrTooManyErrors,
			Line:    p.line,
			Message: fmt.Sprintf("more than %d invalid lines", p.opts.MaxErrors),
		}
	}
	// Skipped lines are kept (bounded, like warnings) so callers can report
	// what was dropped.
	if len(p.genome.Errors) < 100 {
		p.genome.Errors = append(p.genome.Errors, perr)
	}
	p.warn(fmt.Sprintf("line %d skipped: %s", p.line, reason))
	return nil
}

func (p *parser) warn(msg string) {
	// Warnings are bounded so a pathological file cannot balloon memory.
	if len(p.genome.Warnings) < 100 {
		p.genome.Warnings = append(p.genome.Warnings, msg)
	}
}

// isHeader recognizes per-format non-comment header lines.
func (p *parser) isHeader(line string) bool {
	switch p.format {
	case FormatAncestry:
		return strings.HasPrefix(strings.ToLower(line), "rsid,")
	case FormatFTDNA:
		return strings.HasPrefix(strings.ToUpper(line), "RSID,")
	case FormatMyHeritage:
		return strings.HasPrefix(strings.ToUpper(line), `"RSID"`)
	case FormatLivingDNA:
		return strings.HasPrefix(strings.ToLower(line), "rsid\t")
	}
	return false
}

// parseLine dispatches on the detected format. A nil variant with a reason
// marks the line invalid; fatal conditions are handled by the caller.
func (p *parser) parseLine(line string) (*Variant, string) {
	switch {
	case is23andMe(p.format):
		return p.parseTabular(line, "\t", 4)
	case p.format == FormatLivingDNA:
		return p.parseLivingDNA(line)
	case p.format == FormatAncestry:
		return p.parseAncestry(line)
	case p.format == FormatMyHeritage:
		return p.parseMyHeritage(line)
	case p.format == FormatFTDNA:
		return p.parseTabular(line, ",", 4)
	case p.format == FormatVCF:
		return p.parseVCF(line)
	}
	return nil, "unsupported format"
}

// parseTabular handles the id/chromosome/position/genotype layouts shared by
// 23andMe (tab) and FamilyTreeDNA (comma).
func (p *parser) parseTabular(line, sep string, cols int) (*Variant, string) {
	fields := strings.Split(line, sep)
	if len(fields) != cols {
		return nil, fmt.Sprintf("expected %d columns, found %d", cols, len(fields))
	}
	return p.buildVariant(fields[0], fields[1], fields[2], fields[3])
}

func (p *parser) parseLivingDNA(line string) (*Variant, string) {
	fields := strings.Split(line, "\t")
	switch len(fields) {
	case 4:
		return p.buildVariant(fields[0], fields[1], fields[2], fields[3])
	case 3:
		// Some LivingDNA exports omit the genotype column entirely.
		return p.buildVariant(fields[0], fields[1], fields[2], NoCall)
	}
	return nil, fmt.Sprintf("expected 3 or 4 columns, found %d", len(fields))
}

// parseAncestry handles the five-column layout with separate alleles; a "0"
// allele marks a no-call.
func (p *parser) parseAncestry(line string) (*Variant, string) {
	fields := strings.Split(line, ",")
	if len(fields) != 5 {
		return nil, fmt.Sprintf("expected 5 columns, found %d", len(fields))
	}

	a1 := strings.ToUpper(strings.TrimSpace(fields[3]))
	a2 := strings.ToUpper(strings.TrimSpace(fields[4]))
	genotype := a1 + a2
	if a1 == "0" || a2 == "0" {
		genotype = NoCall
	}
	return p.buildVariant(fields[0], fields[1], fields[2], genotype)
}

// parseMyHeritage strips the quoting from the four-column CSV layout.
// MyHeritage values never contain embedded commas or quotes, so trimming is
// sufficient.
func (p *parser) parseMyHeritage(line string) (*Variant, string) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return nil, fmt.Sprintf("expected 4 columns, found %d", len(fields))
	}
	for i, f := range fields {
		fields[i] = strings.Trim(strings.TrimSpace(f), `"`)
	}
	return p.buildVariant(fields[0], fields[1], fields[2], fields[3])
}

// parseVCF takes the ID/CHROM/POS columns and derives a two-character
// genotype from the first sample's GT value when one is present.
func (p *parser) parseVCF(line string) (*Variant, string) {
	fields := strings.Split(line, "\t")
	if len(fields) < 8 {
		return nil, fmt.Sprintf("expected at least 8 columns, found %d", len(fields))
	}

	genotype := NoCall
	if len(fields) >= 10 {
		genotype = vcfGenotype(fields[3], fields[4], fields[8], fields[9])
	}
	return p.buildVariant(fields[2], fields[0], fields[1], genotype)
}

// vcfGenotype resolves a sample GT value like 0/1 against REF and ALT into
// the consumer two-character genotype convention (indels become I/D).
func vcfGenotype(ref, alt, format, sample string) string {
	gtIdx := -1
	for i, key := range strings.Split(format, ":") {
		if key == "GT" {
			gtIdx = i
			break
		}
	}
	if gtIdx < 0 {
		return NoCall
	}

	sampleFields := strings.Split(sample, ":")
	if gtIdx >= len(sampleFields) {
		return NoCall
	}

	gt := strings.ReplaceAll(sampleFields[gtIdx], "|", "/")
	idxs := strings.Split(gt, "/")
	alleles := append([]string{ref}, strings.Split(alt, ",")...)

	var out strings.Builder
	for _, raw := range idxs {
		if raw == "." {
			out.WriteString(NoCallAllele)
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n >= len(alleles) {
			return NoCall
		}
		out.WriteString(alleleChar(alleles[n], ref))
	}

	g := out.String()
	if len(g) == 1 {
		// Haploid call (X/Y/MT): report the single allele twice.
		g += g
	}
	if len(g) != 2 || isNoCallGenotype(g) {
		return NoCall
	}
	return g
}

// alleleChar maps a VCF allele sequence to the single-character consumer
// convention: sequences longer than the reference are insertions, shorter
// ones deletions.
func alleleChar(seq, ref string) string {
	switch {
	case len(seq) < len(ref):
		return "D"
	case len(seq) > len(ref):
		return "I"
	default:
		return strings.ToUpper(string(seq[0]))
	}
}

// buildVariant applies the shared validation rules: id pattern, chromosome
// normalization, non-negative position, allowed genotype characters. The
// no-call conventions all normalize to the sentinel pair.
func (p *parser) buildVariant(id, chrom, pos, genotype string) (*Variant, string) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !ValidRSID(id) {
		return nil, fmt.Sprintf("invalid variant id %q", id)
	}

	c := NormalizeChromosome(chrom)
	if !ValidChromosome(c) {
		return nil, fmt.Sprintf("unknown chromosome %q", chrom)
	}

	position, err := strconv.ParseInt(strings.TrimSpace(pos), 10, 64)
	if err != nil || position < 0 {
		return nil, fmt.Sprintf("invalid position %q", pos)
	}

	g := strings.ToUpper(strings.TrimSpace(genotype))
	if isNoCallGenotype(g) {
		g = NoCall
	}
	if len(g) == 1 {
		// Haploid call (X/Y/MT): report the single allele twice.
		g += g
	}
	if len(g) != 2 {
		return nil, fmt.Sprintf("genotype %q is not two alleles", genotype)
	}
	if p.opts.ValidateGenotypes && !validGenotype(g) {
		return nil, fmt.Sprintf("genotype %q contains invalid alleles", genotype)
	}

	return &Variant{
		ID:         id,
		Chromosome: c,
		Position:   position,
		Genotype:   g,
		Allele1:    string(g[0]),
		Allele2:    string(g[1]),
	}, ""
}

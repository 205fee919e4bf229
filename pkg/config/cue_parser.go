package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Document formats recognised by file extension.
const (
	FormatCUE      = "cue"
	FormatYAML     = "yaml"
	FormatJSON     = "json"
	FormatStarlark = "starlark"
)

// FormatOf returns the document format of path, or "" when the extension
// is not recognised.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".star", ".starlark":
		return FormatStarlark
	default:
		return ""
	}
}

// Parser loads desired-state documents from CUE, YAML, JSON and Starlark
// sources and validates them against the #Document schema.
type Parser struct {
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate

	// vars are predeclared to Starlark scripts as `vars`.
	vars map[string]interface{}

	// cue.Context is not safe for concurrent use.
	mu sync.Mutex
}

// Option configures a Parser.
type Option func(*Parser)

// WithStarlarkTimeout bounds the execution of one Starlark script.
func WithStarlarkTimeout(d time.Duration) Option {
	return func(p *Parser) { p.starlarkEvaluator = NewStarlarkEvaluator(d) }
}

// WithVars exposes vars to Starlark scripts as the predeclared `vars` dict.
func WithVars(vars map[string]interface{}) Option {
	return func(p *Parser) { p.vars = vars }
}

// NewParser creates a new document parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		schemaRegistry:    NewSchemaRegistry(),
		starlarkEvaluator: NewStarlarkEvaluator(DefaultStarlarkTimeout),
		validator:         validator.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load parses sources, merges them and returns the desired state. It
// fails when any source has errors.
func (p *Parser) Load(ctx context.Context, sources ...string) (*ParsedConfig, error) {
	parsed, err := p.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if parsed.HasErrors() {
		return parsed, &LoadError{Errors: parsed.Errors}
	}
	return parsed, nil
}

// Parse loads every source. A source is a file or a directory; directories
// are scanned (non-recursively) for files of a known format. Documents are
// merged in load order. Problems with the documents themselves are
// reported in ParsedConfig.Errors; the returned error is reserved for
// failures to read the sources.
func (p *Parser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	parsed := &ParsedConfig{ParsedAt: time.Now()}
	var docs []fileDocument

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", source, err)
		}

		if info.IsDir() {
			files, errs := p.loadDirectory(ctx, source)
			parsed.Errors = append(parsed.Errors, errs...)
			docs = append(docs, files...)
			continue
		}

		doc, errs := p.loadFile(ctx, source)
		parsed.Errors = append(parsed.Errors, errs...)
		if doc != nil {
			docs = append(docs, fileDocument{path: source, doc: doc})
		}
	}

	for _, d := range docs {
		parsed.SourceFiles = append(parsed.SourceFiles, d.path)
	}
	merged, errs := p.merge(docs)
	parsed.Errors = append(parsed.Errors, errs...)
	if merged != nil {
		parsed.Document = *merged
	}

	log.Ctx(ctx).Debug().
		Strs("files", parsed.SourceFiles).
		Int("errors", len(parsed.Errors)).
		Msg("Parsed desired state")
	return parsed, nil
}

type fileDocument struct {
	path string
	doc  *Document
}

// loadDirectory loads every recognised file of dir in name order. The
// CUE files of a directory form one package and are loaded together.
func (p *Parser) loadDirectory(ctx context.Context, dir string) ([]fileDocument, []ValidationError) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []ValidationError{{
			File:     dir,
			Message:  fmt.Sprintf("failed to read directory: %v", err),
			Severity: SeverityError,
		}}
	}

	var names []string
	hasCUE := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch FormatOf(e.Name()) {
		case FormatCUE:
			hasCUE = true
		case "":
		default:
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		docs []fileDocument
		errs []ValidationError
	)
	if hasCUE {
		doc, cueErrs := p.loadCUEPackage(dir)
		errs = append(errs, cueErrs...)
		if doc != nil {
			docs = append(docs, fileDocument{path: dir, doc: doc})
		}
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		doc, fileErrs := p.loadFile(ctx, path)
		errs = append(errs, fileErrs...)
		if doc != nil {
			docs = append(docs, fileDocument{path: path, doc: doc})
		}
	}

	if len(docs) == 0 && len(errs) == 0 {
		errs = append(errs, ValidationError{
			File:     dir,
			Message:  "no desired-state documents found",
			Severity: SeverityError,
		})
	}
	return docs, errs
}

// loadFile loads a single file of any known format.
func (p *Parser) loadFile(ctx context.Context, path string) (*Document, []ValidationError) {
	format := FormatOf(path)
	if format == "" {
		return nil, []ValidationError{{
			File:     path,
			Message:  "unknown document format",
			Severity: SeverityError,
		}}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: SeverityError,
		}}
	}

	switch format {
	case FormatCUE:
		return p.ParseCUE(path, content)
	case FormatStarlark:
		return p.ParseStarlark(ctx, path, content)
	default:
		return p.ParseYAML(path, content)
	}
}

// loadCUEPackage loads a directory as a CUE package.
func (p *Parser) loadCUEPackage(dir string) (*Document, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: SeverityError,
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return nil, convertCUEErrors(inst.Err)
	}

	p.mu.Lock()
	val := p.schemaRegistry.Context().BuildInstance(inst)
	p.mu.Unlock()
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return p.decode(dir, val)
}

// ParseCUE parses CUE source. filename is used in error positions.
func (p *Parser) ParseCUE(filename string, content []byte) (*Document, []ValidationError) {
	p.mu.Lock()
	val := p.schemaRegistry.Context().CompileBytes(content, cue.Filename(filename))
	p.mu.Unlock()
	if err := val.Err(); err != nil {
		return nil, withFile(convertCUEErrors(err), filename)
	}
	return p.decode(filename, val)
}

// ParseYAML parses YAML or JSON source.
func (p *Parser) ParseYAML(filename string, content []byte) (*Document, []ValidationError) {
	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, []ValidationError{yamlError(filename, err)}
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return p.decodeData(filename, data)
}

// ParseStarlark executes a Starlark script and reads the document from its
// exported globals.
func (p *Parser) ParseStarlark(ctx context.Context, filename string, content []byte) (*Document, []ValidationError) {
	input := map[string]interface{}{}
	if p.vars != nil {
		input["vars"] = p.vars
	} else {
		input["vars"] = map[string]interface{}{}
	}

	result, err := p.starlarkEvaluator.Evaluate(ctx, filename, string(content), input)
	if err != nil {
		return nil, []ValidationError{{
			File:     filename,
			Message:  err.Error(),
			Severity: SeverityError,
		}}
	}

	data := make(map[string]interface{})
	for _, key := range []string{"version", "mode", "products", "customers", "invoices"} {
		if v, ok := result.Output[key]; ok {
			data[key] = v
		}
	}
	return p.decodeData(filename, data)
}

// ParseInline parses inline content of the given format.
func (p *Parser) ParseInline(ctx context.Context, format, content string) (*Document, error) {
	var (
		doc  *Document
		errs []ValidationError
	)
	switch format {
	case FormatCUE:
		doc, errs = p.ParseCUE("inline", []byte(content))
	case FormatYAML, FormatJSON:
		doc, errs = p.ParseYAML("inline", []byte(content))
	case FormatStarlark:
		doc, errs = p.ParseStarlark(ctx, "inline", []byte(content))
	default:
		return nil, fmt.Errorf("unknown document format: %q", format)
	}
	if len(errs) > 0 {
		return nil, &LoadError{Errors: errs}
	}
	return doc, nil
}

func (p *Parser) decodeData(filename string, data map[string]interface{}) (*Document, []ValidationError) {
	p.mu.Lock()
	val := p.schemaRegistry.Context().Encode(data)
	p.mu.Unlock()
	if err := val.Err(); err != nil {
		return nil, []ValidationError{{
			File:     filename,
			Message:  fmt.Sprintf("failed to encode document: %v", err),
			Severity: SeverityError,
		}}
	}
	return p.decode(filename, val)
}

// decode validates val against #Document and extracts it.
func (p *Parser) decode(filename string, val cue.Value) (*Document, []ValidationError) {
	p.mu.Lock()
	defer p.mu.Unlock()

	unified, err := p.schemaRegistry.Unify("document", val)
	if err != nil {
		return nil, atSource(convertCUEErrors(err), filename)
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, withFile(convertCUEErrors(err), filename)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, []ValidationError{{
			File:     filename,
			Message:  fmt.Sprintf("failed to decode document: %v", err),
			Severity: SeverityError,
		}}
	}

	if err := p.validator.Struct(doc); err != nil {
		return nil, withFile(convertValidatorErrors(err), filename)
	}
	if errs := checkDates(doc); len(errs) > 0 {
		return nil, withFile(errs, filename)
	}
	return &doc, nil
}

// merge concatenates documents. An entity defined by two documents is an
// error, as is a conflicting mode.
func (p *Parser) merge(docs []fileDocument) (*Document, []ValidationError) {
	merged := &Document{}
	var errs []ValidationError

	products := make(map[string]string)
	customers := make(map[string]string)
	invoices := make(map[string]string)
	dup := func(file, path, seenIn string) {
		errs = append(errs, ValidationError{
			File:     file,
			Path:     path,
			Message:  fmt.Sprintf("duplicate definition, first defined in %s", seenIn),
			Severity: SeverityError,
		})
	}

	for _, fd := range docs {
		d := fd.doc
		if d.Mode != "" {
			if merged.Mode != "" && merged.Mode != d.Mode {
				errs = append(errs, ValidationError{
					File:     fd.path,
					Path:     "mode",
					Message:  fmt.Sprintf("mode %q conflicts with %q", d.Mode, merged.Mode),
					Severity: SeverityError,
				})
			}
			merged.Mode = d.Mode
		}
		if d.Version != "" {
			merged.Version = d.Version
		}

		for i, prod := range d.Products {
			if seen, ok := products[prod.ID]; ok {
				dup(fd.path, fmt.Sprintf("products[%d]", i), seen)
				continue
			}
			products[prod.ID] = fd.path
			merged.Products = append(merged.Products, prod)
		}
		for i, c := range d.Customers {
			key := strings.ToLower(c.Email)
			if seen, ok := customers[key]; ok {
				dup(fd.path, fmt.Sprintf("customers[%d]", i), seen)
				continue
			}
			customers[key] = fd.path
			merged.Customers = append(merged.Customers, c)
		}
		for i, inv := range d.Invoices {
			key := strings.ToLower(inv.Customer) + "/" + inv.Exid
			if seen, ok := invoices[key]; ok {
				dup(fd.path, fmt.Sprintf("invoices[%d]", i), seen)
				continue
			}
			invoices[key] = fd.path
			if itemErrs := checkItemExids(inv); len(itemErrs) > 0 {
				errs = append(errs, withFile(prefixPath(itemErrs, fmt.Sprintf("invoices[%d]", i)), fd.path)...)
				continue
			}
			merged.Invoices = append(merged.Invoices, inv)
		}
	}
	return merged, errs
}

func checkItemExids(inv InvoiceConfig) []ValidationError {
	if inv.Items == nil {
		return nil
	}
	var errs []ValidationError
	seen := make(map[string]bool)
	for i, it := range *inv.Items {
		if seen[it.Exid] {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("items[%d].exid", i),
				Message:  fmt.Sprintf("duplicate item exid %q", it.Exid),
				Severity: SeverityError,
			})
		}
		seen[it.Exid] = true
	}
	return errs
}

func checkDates(doc Document) []ValidationError {
	var errs []ValidationError
	for i, inv := range doc.Invoices {
		if inv.DueDate == nil {
			continue
		}
		if _, err := ParseDate(*inv.DueDate); err != nil {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("invoices[%d].dueDate", i),
				Message:  err.Error(),
				Severity: SeverityError,
			})
		}
	}
	return errs
}

// ParseDate accepts an RFC 3339 timestamp or a plain date (UTC midnight).
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: SeverityError,
		})
	}

	return validationErrors
}

func convertValidatorErrors(err error) []ValidationError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: err.Error(), Severity: SeverityError}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		msg := "failed on " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, ValidationError{
			Path:     strings.TrimPrefix(fe.Namespace(), "Document."),
			Message:  msg,
			Severity: SeverityError,
		})
	}
	return out
}

func yamlError(filename string, err error) ValidationError {
	ve := ValidationError{File: filename, Message: err.Error(), Severity: SeverityError}
	// yaml: line 3: mapping values are not allowed in this context
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	if rest, ok := strings.CutPrefix(msg, "line "); ok {
		if n, tail, ok := strings.Cut(rest, ": "); ok {
			if line, err := strconv.Atoi(n); err == nil {
				ve.Line = line
				ve.Message = tail
			}
		}
	}
	return ve
}

func withFile(errs []ValidationError, file string) []ValidationError {
	for i := range errs {
		if errs[i].File == "" {
			errs[i].File = file
		}
	}
	return errs
}

// atSource attributes errors to filename. Positions inside other files,
// e.g. the schema, are dropped.
func atSource(errs []ValidationError, filename string) []ValidationError {
	for i := range errs {
		if errs[i].File != filename && !strings.HasPrefix(errs[i].File, filename+string(filepath.Separator)) {
			errs[i].File = filename
			errs[i].Line = 0
			errs[i].Column = 0
		}
	}
	return errs
}

func prefixPath(errs []ValidationError, prefix string) []ValidationError {
	for i := range errs {
		errs[i].Path = prefix + "." + errs[i].Path
	}
	return errs
}

func formatPosition(file string, line, column int) string {
	if column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, line, column)
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// LoadError carries the validation errors of a failed load.
type LoadError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors:\n  %s", len(e.Errors), strings.Join(msgs, "\n  "))
}

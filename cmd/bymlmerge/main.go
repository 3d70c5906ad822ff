// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sam-fredrickson/bymlmerge"
	"github.com/sam-fredrickson/bymlmerge/byml"
	"github.com/sam-fredrickson/bymlmerge/envelope"
	"github.com/sam-fredrickson/bymlmerge/interchange"
	"github.com/sam-fredrickson/bymlmerge/textpatch"
)

var version = "dev"

func main() {
	var failed bool
	defer func() {
		if failed {
			os.Exit(1)
		}
	}()

	cfg, err := parseArgs(os.Args[0], os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "bymlmerge:", err)
		failed = true
		return
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		return
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "bymlmerge:", err)
		failed = true
		return
	}
	defer func() { _ = logger.Sync() }()

	if err := Run(cfg, logger, os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "bymlmerge:", err)
		failed = true
		return
	}
}

// config holds every setting of a run. The TOML keys are what a --config
// file may set; command-line flags take precedence over the file.
type config struct {
	Base    string   `toml:"base"`
	Patches []string `toml:"patches"`
	Output  string   `toml:"output"`
	// Endian and Compression are nil when they follow the inputs.
	Endian      *byml.Endian          `toml:"endian"`
	Compression *envelope.Compression `toml:"compression"`
	Version     uint16                `toml:"byml_version"`
	Format      string                `toml:"format"`
	Level       int                   `toml:"level"`
	Dict        string                `toml:"dict"`
	Diff        bool                  `toml:"diff"`
	Verbose     bool                  `toml:"verbose"`
	ConfigPath  string                `toml:"-"`
	ShowVersion bool                  `toml:"-"`
}

func parseArgs(program string, args []string, stderr io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet(program, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "usage: %s -b BASE -i PATCH [-i PATCH...] -o OUT [flags]\n\n", program)
		fmt.Fprintf(out, "Merges patch documents into a base document.\n")
		fmt.Fprintf(out, "Inputs may be binary (optionally .zs or .lz4 compressed) or tagged text.\n\n")
		fmt.Fprintf(out, "Example:\n")
		fmt.Fprintf(out, "  # apply two text patches to a compressed binary base\n")
		fmt.Fprintf(out, "  %s -b Actor.byml.zs -i hp.yml -i names.yml -o out/Actor.byml.zs\n\n", program)
		fmt.Fprintf(out, "  # inspect the merged result as JSON\n")
		fmt.Fprintf(out, "  %s -b Actor.byml.zs -i hp.yml -o - --format json\n\n", program)
		fmt.Fprintf(out, "Flags:\n")
		fs.PrintDefaults()
	}

	fs.StringVarP(&cfg.Base, "base", "b", "", "base document")
	fs.StringArrayVarP(&cfg.Patches, "patch", "i", nil, "patch document, applied in order (repeatable)")
	fs.StringVarP(&cfg.Output, "output", "o", "", `output path ("-" for stdout)`)
	var endian byml.Endian
	fs.Var(&endian, "endian", "binary output byte order [little, big] (defaults to the base file's)")
	var compression envelope.Compression
	fs.Var(&compression, "compression", "output compression [none, zstd, lz4] (defaults to the output extension's)")
	// Both follow the inputs unless given, so hide the zero values in help.
	fs.Lookup("endian").DefValue = ""
	fs.Lookup("compression").DefValue = ""
	fs.Uint16Var(&cfg.Version, "byml-version", 0, "binary output version (defaults to the base file's)")
	fs.StringVar(&cfg.Format, "format", "byml", "output format [byml, text, json, yaml, toml, cbor]")
	fs.IntVar(&cfg.Level, "level", 0, "compression level (0 for the codec default)")
	fs.StringVar(&cfg.Dict, "dict", "", "zstd dictionary file")
	fs.StringVar(&cfg.ConfigPath, "config", "", "TOML file with default settings")
	fs.BoolVar(&cfg.Diff, "diff", false, "print a diff of the base and the result to stderr")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log progress")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	if fs.Changed("endian") {
		cfg.Endian = &endian
	}
	if fs.Changed("compression") {
		cfg.Compression = &compression
	}
	if cfg.ConfigPath == "" {
		return cfg, nil
	}

	var file config
	if _, err := toml.DecodeFile(cfg.ConfigPath, &file); err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", cfg.ConfigPath, err)
	}
	// Relative paths in the config file are relative to the file itself.
	dir := filepath.Dir(cfg.ConfigPath)
	resolve := func(p string) string {
		if p == "" || p == "-" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	set := func(name string, apply func()) {
		if !fs.Changed(name) {
			apply()
		}
	}
	set("base", func() { cfg.Base = resolve(file.Base) })
	set("patch", func() {
		cfg.Patches = nil
		for _, p := range file.Patches {
			cfg.Patches = append(cfg.Patches, resolve(p))
		}
	})
	set("output", func() { cfg.Output = resolve(file.Output) })
	set("endian", func() { cfg.Endian = file.Endian })
	set("compression", func() { cfg.Compression = file.Compression })
	set("byml-version", func() { cfg.Version = file.Version })
	set("format", func() {
		if file.Format != "" {
			cfg.Format = file.Format
		}
	})
	set("level", func() { cfg.Level = file.Level })
	set("dict", func() { cfg.Dict = resolve(file.Dict) })
	set("diff", func() { cfg.Diff = file.Diff })
	set("verbose", func() { cfg.Verbose = file.Verbose })
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zc.DisableStacktrace = true
	zc.DisableCaller = true
	return zc.Build()
}

// document is a loaded input file.
type document struct {
	path string
	node bymlmerge.Node
	// binary is the on-disk format of a binary input, nil for text.
	binary *byml.Format
}

func Run(cfg config, logger *zap.Logger, stdout, stderr io.Writer) error {
	if cfg.Base == "" {
		return fmt.Errorf("no base document given")
	}
	if len(cfg.Patches) == 0 {
		return fmt.Errorf("no patches to apply")
	}
	if cfg.Output == "" {
		return fmt.Errorf("no output path given")
	}

	format := strings.ToLower(cfg.Format)
	var exportFormat interchange.Format
	switch format {
	case "byml", "text":
	default:
		var err error
		if exportFormat, err = interchange.ParseFormat(format); err != nil {
			return err
		}
	}

	compression := envelope.Options{Level: cfg.Level}
	if cfg.Dict != "" {
		dict, err := os.ReadFile(cfg.Dict)
		if err != nil {
			return fmt.Errorf("failed to read dictionary: %w", err)
		}
		compression.Dict = dict
	}

	base, err := load(cfg.Base, compression, logger)
	if err != nil {
		return err
	}
	patches := make([]*document, len(cfg.Patches))
	nodes := make([]bymlmerge.Node, len(cfg.Patches))
	for i, path := range cfg.Patches {
		if patches[i], err = load(path, compression, logger); err != nil {
			return err
		}
		nodes[i] = patches[i].node
	}

	merger, err := bymlmerge.NewMerger(bymlmerge.Options{})
	if err != nil {
		return err
	}
	var merged bymlmerge.Node
	if cfg.Diff {
		merged, err = merger.MergeCopy(base.node, nodes...)
	} else {
		merged, err = merger.Merge(base.node, nodes...)
	}
	if err != nil {
		if i := failedDocument(err); i > 0 && i <= len(patches) {
			return fmt.Errorf("failed to apply %s: %w", patches[i-1].path, err)
		}
		return fmt.Errorf("merge failed: %w", err)
	}
	logger.Debug("merged", zap.Int("patches", len(patches)))

	if cfg.Diff {
		if err := writeDiff(stderr, base.node, merged); err != nil {
			return err
		}
	}

	var out []byte
	switch format {
	case "byml":
		f := byml.Format{}
		if base.binary != nil {
			f = *base.binary
		}
		if cfg.Endian != nil {
			f.Endian = *cfg.Endian
		}
		if cfg.Version != 0 {
			f.Version = cfg.Version
		}
		out, err = byml.Encode(merged, f)
		logger.Debug("encoded", zap.Stringer("endian", f.Endian), zap.Uint16("version", f.Version), zap.Int("bytes", len(out)))
	case "text":
		out, err = textpatch.Format(merged)
	default:
		out, err = interchange.Marshal(merged, exportFormat)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal result as %s: %w", format, err)
	}

	if cfg.Output == "-" {
		if _, err := stdout.Write(out); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}
	c := envelope.Detect(cfg.Output)
	if cfg.Compression != nil {
		c = *cfg.Compression
	}
	if out, err = envelope.Compress(out, c, compression); err != nil {
		return fmt.Errorf("failed to compress output: %w", err)
	}
	if err := writeFileAtomic(cfg.Output, out); err != nil {
		return err
	}
	logger.Debug("wrote output", zap.String("path", cfg.Output), zap.Stringer("compression", c), zap.Int("bytes", len(out)))
	return nil
}

// load reads a document, choosing decompression by extension and falling
// back to the frame magic, then decoding binary or text by content.
func load(path string, opts envelope.Options, logger *zap.Logger) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	c := envelope.Detect(path)
	if c == envelope.None {
		c = envelope.Sniff(data)
	}
	if data, err = envelope.Decompress(data, c, opts); err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}

	doc := &document{path: path}
	if byml.IsBinary(data) {
		n, f, err := byml.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		doc.node, doc.binary = n, &f
		logger.Debug("loaded binary document",
			zap.String("path", path),
			zap.Stringer("compression", c),
			zap.Stringer("endian", f.Endian),
			zap.Uint16("version", f.Version),
		)
		return doc, nil
	}

	if doc.node, err = textpatch.Parse(data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	logger.Debug("loaded text document", zap.String("path", path), zap.Stringer("compression", c))
	return doc, nil
}

// failedDocument extracts the document index carried by a merge error.
func failedDocument(err error) int {
	var mismatch *bymlmerge.MismatchError
	var outOfRange *bymlmerge.IndexOutOfRangeError
	var depth *bymlmerge.DepthError
	switch {
	case errors.As(err, &mismatch):
		return mismatch.DocIndex
	case errors.As(err, &outOfRange):
		return outOfRange.DocIndex
	case errors.As(err, &depth):
		return depth.DocIndex
	default:
		return -1
	}
}

// writeDiff prints a line diff of the text forms of before and after.
func writeDiff(w io.Writer, before, after bymlmerge.Node) error {
	from, err := textpatch.Format(before)
	if err != nil {
		return fmt.Errorf("failed to format base for diff: %w", err)
	}
	to, err := textpatch.Format(after)
	if err != nil {
		return fmt.Errorf("failed to format result for diff: %w", err)
	}

	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(from), string(to))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffpatch.DiffInsert:
			prefix = "+ "
		case diffpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			if _, err := io.WriteString(w, prefix+line); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it into place, so a failed run never leaves a partial output.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp output file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing output: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp output file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming output file: %w", err)
	}

	success = true
	return nil
}

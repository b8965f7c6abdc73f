package main

import (
	"bytes"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"

	"github.com/avast/axmlparser"
	"github.com/avast/axmlparser/manifest"
)

type inputKind int

const (
	inputXml inputKind = iota
	inputApk
	inputArsc
)

func main() {
	apkPath := flag.String("a", "", "Path to an APK, its AndroidManifest.xml is decoded")
	xmlPath := flag.String("x", "", "Path to an Android binary XML file")
	arscPath := flag.String("r", "", "Path to a resources.arsc file")
	outPath := flag.String("o", "", "Write the output to this file instead of stdout")
	summary := flag.String("summary", "", "Print a manifest summary instead of XML: yaml or text")
	verbose := flag.Bool("v", false, "Log every decoded chunk")

	flag.Parse()

	log.SetHandler(cli.New(os.Stderr))
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	kind, input, err := pickInput(*apkPath, *xmlPath, *arscPath, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n%s [-a APK | -x AXML | -r ARSC | INPUT]\n", err, os.Args[0])
		os.Exit(1)
	}

	if *summary != "" && *summary != "yaml" && *summary != "text" {
		log.Fatalf("unknown summary format %q", *summary)
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.WithError(err).Fatal("failed to create output file")
		}
		defer f.Close()
		out = f
	}

	data, err := readInput(kind, input)
	if err != nil {
		log.WithError(err).WithField("input", input).Fatal("failed to read input")
	}

	if kind == inputArsc {
		table, err := axmlparser.ParseResourceTable(bytes.NewReader(data))
		if err != nil {
			log.WithError(err).Fatal("failed to parse resource table")
		}
		fmt.Fprint(out, table.String())
		return
	}

	if *summary != "" {
		if err := writeSummary(out, data, *summary); err != nil {
			log.WithError(err).Fatal("failed to parse manifest")
		}
		return
	}

	enc := xml.NewEncoder(out)
	enc.Indent("", "    ")

	err = axmlparser.ParseXml(bytes.NewReader(data), enc)
	fmt.Fprintln(out)
	if err != nil {
		log.WithError(err).Fatal("failed to parse binary xml")
	}
}

func pickInput(apkPath, xmlPath, arscPath string, args []string) (inputKind, string, error) {
	var kind inputKind
	var input string
	given := 0
	for _, p := range []struct {
		kind inputKind
		path string
	}{{inputApk, apkPath}, {inputXml, xmlPath}, {inputArsc, arscPath}} {
		if p.path != "" {
			kind, input = p.kind, p.path
			given++
		}
	}

	switch {
	case given > 1 || (given == 1 && len(args) != 0):
		return kind, input, fmt.Errorf("only one input can be given")
	case given == 1:
		return kind, input, nil
	case len(args) != 1:
		return kind, input, fmt.Errorf("no input given")
	}

	input = args[0]
	switch {
	case strings.HasSuffix(input, ".apk"):
		kind = inputApk
	case strings.HasSuffix(input, ".arsc"):
		kind = inputArsc
	default:
		kind = inputXml
	}
	return kind, input, nil
}

func readInput(kind inputKind, input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(os.Stdin)
	}

	if kind != inputApk {
		return os.ReadFile(input)
	}

	zr, err := axmlparser.OpenZip(input)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return zr.ReadEntry(axmlparser.ManifestEntry, axmlparser.DefaultEntryLimit)
}

func writeSummary(out io.Writer, data []byte, format string) error {
	c := manifest.NewCollector()
	if err := axmlparser.ParseXml(bytes.NewReader(data), c); err != nil {
		return err
	}

	if format == "yaml" {
		return c.Summary.WriteYAML(out)
	}
	return c.Summary.WriteText(out)
}

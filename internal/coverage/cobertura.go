package coverage

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

type coberturaReport struct {
	XMLName  xml.Name           `xml:"coverage"`
	Sources  []string           `xml:"sources>source"`
	Packages []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Classes []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Filename string          `xml:"filename,attr"`
	Lines    []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number int   `xml:"number,attr"`
	Hits   int64 `xml:"hits,attr"`
}

// parseCobertura returns the per-file lines and the source directories the
// class filenames are relative to.
func parseCobertura(data []byte) (fileLines, []string, error) {
	var report coberturaReport
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&report); err != nil {
		return nil, nil, fmt.Errorf("coverage: decode cobertura: %w", err)
	}
	sources := make([]string, 0, len(report.Sources))
	for _, src := range report.Sources {
		if src = strings.TrimSpace(src); src != "" {
			sources = append(sources, src)
		}
	}
	files := make(fileLines)
	for _, pkg := range report.Packages {
		for _, cls := range pkg.Classes {
			if cls.Filename == "" {
				continue
			}
			files.touch(cls.Filename)
			for _, line := range cls.Lines {
				files.add(cls.Filename, line.Number, line.Hits > 0)
			}
		}
	}
	return files, sources, nil
}

package coverage

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
)

type jacocoReport struct {
	XMLName  xml.Name        `xml:"report"`
	Packages []jacocoPackage `xml:"package"`
	Groups   []jacocoGroup   `xml:"group"`
}

type jacocoGroup struct {
	Packages []jacocoPackage `xml:"package"`
	Groups   []jacocoGroup   `xml:"group"`
}

type jacocoPackage struct {
	Name        string             `xml:"name,attr"`
	SourceFiles []jacocoSourceFile `xml:"sourcefile"`
}

type jacocoSourceFile struct {
	Name  string       `xml:"name,attr"`
	Lines []jacocoLine `xml:"line"`
}

type jacocoLine struct {
	Number        int `xml:"nr,attr"`
	MissedInstrs  int `xml:"mi,attr"`
	CoveredInstrs int `xml:"ci,attr"`
}

func parseJaCoCo(data []byte) (fileLines, error) {
	var report jacocoReport
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&report); err != nil {
		return nil, fmt.Errorf("coverage: decode jacoco: %w", err)
	}
	files := make(fileLines)
	var addPackages func([]jacocoPackage)
	addPackages = func(pkgs []jacocoPackage) {
		for _, pkg := range pkgs {
			for _, sf := range pkg.SourceFiles {
				if sf.Name == "" {
					continue
				}
				name := path.Join(pkg.Name, sf.Name)
				files.touch(name)
				for _, line := range sf.Lines {
					if line.CoveredInstrs == 0 && line.MissedInstrs == 0 {
						continue
					}
					files.add(name, line.Number, line.CoveredInstrs > 0)
				}
			}
		}
	}
	addPackages(report.Packages)
	var addGroups func([]jacocoGroup)
	addGroups = func(groups []jacocoGroup) {
		for _, g := range groups {
			addPackages(g.Packages)
			addGroups(g.Groups)
		}
	}
	addGroups(report.Groups)
	return files, nil
}

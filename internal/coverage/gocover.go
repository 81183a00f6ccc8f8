package coverage

import (
	"bytes"
	"fmt"

	"golang.org/x/tools/cover"
)

// parseGoCover reads a Go coverprofile. Profiles name files by import path,
// so matching relies on the shared suffix with the source path. Lines spanned
// by several blocks count as covered when any of them ran.
func parseGoCover(data []byte) (fileLines, error) {
	profiles, err := cover.ParseProfilesFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coverage: parse coverprofile: %w", err)
	}
	files := make(fileLines)
	for _, profile := range profiles {
		files.touch(profile.FileName)
		for _, block := range profile.Blocks {
			for line := block.StartLine; line <= block.EndLine; line++ {
				files.add(profile.FileName, line, block.Count > 0)
			}
		}
	}
	return files, nil
}

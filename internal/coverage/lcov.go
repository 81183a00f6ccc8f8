package coverage

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// parseLCOV reads SF/DA records of an LCOV tracefile. Function and branch
// records are ignored.
func parseLCOV(data []byte) (fileLines, error) {
	files := make(fileLines)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	current := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(text, "SF:"):
			current = strings.TrimSpace(strings.TrimPrefix(text, "SF:"))
			if current != "" {
				files.touch(current)
			}
		case text == "end_of_record":
			current = ""
		case strings.HasPrefix(text, "DA:"):
			if current == "" {
				continue
			}
			fields := strings.Split(strings.TrimPrefix(text, "DA:"), ",")
			if len(fields) < 2 {
				return nil, fmt.Errorf("coverage: lcov line %d: malformed DA record", lineNo)
			}
			line, err := strconv.Atoi(strings.TrimSpace(fields[0]))
			if err != nil {
				return nil, fmt.Errorf("coverage: lcov line %d: %w", lineNo, err)
			}
			hits, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
			if err != nil {
				return nil, fmt.Errorf("coverage: lcov line %d: %w", lineNo, err)
			}
			files.add(current, line, hits > 0)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("coverage: read lcov: %w", err)
	}
	return files, nil
}

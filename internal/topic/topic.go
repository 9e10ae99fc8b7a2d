// Package topic adapts the externally trained topic model: classification
// of message text plus the static topic-number-to-name mapping.
package topic

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Prediction is the model output for one input text. Probability is the
// maximum over the model's returned distribution for that text.
type Prediction struct {
	Topic       int     `json:"topic"`
	Probability float64 `json:"probability"`
}

// NameMap resolves topic numbers to human-readable names.
type NameMap map[int]string

// Lookup returns the name for a topic number; unmapped numbers yield
// ("", false).
func (m NameMap) Lookup(topic int) (string, bool) {
	name, ok := m[topic]
	return name, ok
}

// LoadNames reads a topic name mapping from a flat text file with one
// colon-separated "number: name" pair per line. Blank lines are skipped.
func LoadNames(path string) (NameMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "topic: open names file %s", path)
	}
	defer f.Close()

	names := make(NameMap)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		num, name, ok := strings.Cut(line, ":")
		if !ok {
			return nil, eris.New("topic: malformed names line " + strconv.Itoa(lineNo) + ": " + line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return nil, eris.Wrapf(err, "topic: bad topic number on line %d", lineNo)
		}
		names[n] = strings.TrimSpace(name)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "topic: read names file %s", path)
	}

	return names, nil
}

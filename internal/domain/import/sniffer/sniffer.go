// Package sniffer inspects raw statement bytes: text encoding cleanup,
// delimiter detection and container format signatures.
package sniffer

import (
	"bytes"
	"encoding/csv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// zip local file header; XLSX workbooks are zip containers.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// maxProbeLines bounds how far into a file delimiter detection looks.
const maxProbeLines = 20

// Normalize strips a UTF-8 BOM and converts Latin-1 content to UTF-8.
func Normalize(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

// DetectDelimiter picks the delimiter that splits the first lines most
// consistently. Comma is returned when nothing else wins.
func DetectDelimiter(data []byte) rune {
	lines := probeLines(data)
	if len(lines) == 0 {
		return ','
	}

	best, bestScore := ',', -1
	for _, d := range []rune{',', ';', '\t', '|'} {
		score := consistency(lines, d)
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// consistency counts lines whose field count equals the most common field
// count for the delimiter, weighted by that count. Single-field splits score 0.
func consistency(lines []string, delimiter rune) int {
	counts := make(map[int]int)
	for _, line := range lines {
		r := csv.NewReader(strings.NewReader(line))
		r.Comma = delimiter
		r.LazyQuotes = true
		rec, err := r.Read()
		if err != nil || len(rec) < 2 {
			continue
		}
		counts[len(rec)]++
	}

	score := 0
	for fields, lines := range counts {
		if s := fields * lines; s > score {
			score = s
		}
	}
	return score
}

func probeLines(data []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) >= maxProbeLines {
			break
		}
	}
	return lines
}

// LooksLikeOFX reports whether the content carries an OFX header or root tag.
func LooksLikeOFX(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	upper := bytes.ToUpper(head)
	return bytes.Contains(upper, []byte("OFXHEADER")) || bytes.Contains(upper, []byte("<OFX>"))
}

// LooksLikeZip reports whether the content is a zip container.
func LooksLikeZip(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

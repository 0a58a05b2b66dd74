package geom

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrMissingKeyword is returned when a required keyword is absent.
var ErrMissingKeyword = errors.New("missing keyword")

// KeywordList is an ordered list of "key: value" pairs, the text format used
// by geom files. Keys keep their insertion order when written back.
type KeywordList struct {
	keys   []string
	values map[string]string
}

// NewKeywordList returns an empty keyword list.
func NewKeywordList() *KeywordList {
	return &KeywordList{values: make(map[string]string)}
}

// Len returns the number of keywords.
func (k *KeywordList) Len() int { return len(k.keys) }

// Keys returns the keys in insertion order.
func (k *KeywordList) Keys() []string {
	out := make([]string, len(k.keys))
	copy(out, k.keys)
	return out
}

// Add sets prefix+key to value, replacing any previous value in place.
func (k *KeywordList) Add(prefix, key, value string) {
	full := prefix + key
	if _, ok := k.values[full]; !ok {
		k.keys = append(k.keys, full)
	}
	k.values[full] = value
}

// AddFloat stores v using the shortest representation that round-trips.
func (k *KeywordList) AddFloat(prefix, key string, v float64) {
	k.Add(prefix, key, strconv.FormatFloat(v, 'g', -1, 64))
}

// Find looks up prefix+key.
func (k *KeywordList) Find(prefix, key string) (string, bool) {
	v, ok := k.values[prefix+key]
	return v, ok
}

// String returns the value of prefix+key or an ErrMissingKeyword error.
func (k *KeywordList) String(prefix, key string) (string, error) {
	v, ok := k.Find(prefix, key)
	if !ok {
		return "", fmt.Errorf("%w: %s%s", ErrMissingKeyword, prefix, key)
	}
	return v, nil
}

// Float parses prefix+key as a float64.
func (k *KeywordList) Float(prefix, key string) (float64, error) {
	v, err := k.String(prefix, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("keyword %s%s: %w", prefix, key, err)
	}
	return f, nil
}

// FloatOr parses prefix+key, returning def when the keyword is absent.
// A present but malformed value is still an error.
func (k *KeywordList) FloatOr(prefix, key string, def float64) (float64, error) {
	if _, ok := k.Find(prefix, key); !ok {
		return def, nil
	}
	return k.Float(prefix, key)
}

// ParseKeywordList reads a keyword list. Blank lines and lines starting with
// "//" or "#" are ignored. Each remaining line must contain a ':' separator.
func ParseKeywordList(r io.Reader) (*KeywordList, error) {
	kwl := NewKeywordList()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, fmt.Errorf("keyword list line %d: expected \"key: value\", got %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		kwl.Add("", key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keyword list: %w", err)
	}
	return kwl, nil
}

// ReadKeywordListFile loads a keyword list from disk.
func ReadKeywordListFile(path string) (*KeywordList, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open geom file: %w", err)
	}
	defer f.Close()
	kwl, err := ParseKeywordList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return kwl, nil
}

// WriteTo writes the list in insertion order.
func (k *KeywordList) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	for _, key := range k.keys {
		n, err := fmt.Fprintf(bw, "%s:  %s\n", key, k.values[key])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

// WriteFile writes the list to path, replacing any existing file.
func (k *KeywordList) WriteFile(path string) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create geom file: %w", err)
	}
	if _, err := k.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write geom file: %w", err)
	}
	return f.Close()
}

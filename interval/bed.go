package interval

import (
	"bufio"
	"context"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// BEDOpts defines how BED files are read.
type BEDOpts struct {
	// OneBasedInput interprets the BED interval boundaries as one-based [start,
	// end] instead of the usual zero-based [start, end).
	OneBasedInput bool
}

// ParseBED reads the first three columns of every line of a BED file. Blank
// lines and "track", "browser" and '#' header lines are skipped. The entries
// are returned in file order; pass them to Union to merge them.
func ParseBED(reader io.Reader, opts BEDOpts) ([]Entry, error) {
	var (
		startSubtract int
		tokens        [3][]byte
		entries       []Entry
		lineIdx       int
		totBases      int
	)
	if opts.OneBasedInput {
		startSubtract++
	}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if first := gunsafe.BytesToString(tokens[0]); first[0] == '#' || first == "track" || first == "browser" {
			continue
		}
		if nToken != 3 {
			return nil, errors.Errorf("interval.ParseBED: line %d has fewer tokens than expected", lineIdx)
		}
		start, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, errors.Wrapf(err, "interval.ParseBED: line %d", lineIdx)
		}
		start -= startSubtract
		if start < 0 {
			return nil, errors.Errorf("interval.ParseBED: negative start coordinate %s on line %d", tokens[1], lineIdx)
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, errors.Wrapf(err, "interval.ParseBED: line %d", lineIdx)
		}
		if end < start || end >= posTypeMax {
			return nil, errors.Errorf("interval.ParseBED: invalid coordinate pair on line %d", lineIdx)
		}
		// The chromosome name must be copied; tokens alias the scanner buffer.
		entries = append(entries, Entry{ChrName: string(tokens[0]), Start0: PosType(start), End: PosType(end)})
		totBases += end - start
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "interval.ParseBED")
	}
	log.Debug.Printf("BED loaded, %d interval(s), %d base(s) before merging", len(entries), totBases)
	return entries, nil
}

// LoadBED is a wrapper for ParseBED that takes a path instead of an
// io.Reader. Gzip-compressed files are detected by name.
func LoadBED(ctx context.Context, path string, opts BEDOpts) (entries []Entry, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		defer gz.Close() // nolint: errcheck
		reader = gz
	}
	return ParseBED(reader, opts)
}

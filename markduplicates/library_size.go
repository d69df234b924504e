package markduplicates

/**
* MIT License
*
* Copyright (c) 2017 Broad Institute
*
* Permission is hereby granted, free of charge, to any person obtaining a copy
* of this software and associated documentation files (the "Software"), to deal
* in the Software without restriction, including without limitation the rights
* to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
* copies of the Software, and to permit persons to whom the Software is
* furnished to do so, subject to the following conditions:
*
* The above copyright notice and this permission notice shall be included in all
* copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
* IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
* FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
* AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
* LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
* OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
* SOFTWARE.
 */

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// errNoDuplicates is returned by estimateLibrarySize when every observed
// pair is unique, so the library size is unbounded.
var errNoDuplicates = errors.E(errors.NotExist, "no duplicates")

// Bisection steps after the library size has been bracketed.
const librarySizeIterations = 40

// estimateLibrarySize returns the number of distinct molecules X in a
// library from the Lander-Waterman equation
//
//   C/X = 1 - exp(-N/X)
//
// where N is the number of read pairs and C the number of distinct pairs
// observed.
func estimateLibrarySize(readPairs, uniqueReadPairs uint64) (uint64, error) {
	if readPairs == 0 || uniqueReadPairs >= readPairs {
		return 0, errNoDuplicates
	}
	n, c := float64(readPairs), float64(uniqueReadPairs)
	// g is positive while the multiplier x of c is below X/c.
	g := func(x float64) float64 {
		return 1/x + math.Expm1(-n/(x*c))
	}
	if g(1) < 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("invalid pair counts %d, %d", readPairs, uniqueReadPairs))
	}
	lo, hi, err := bracketLibrarySize(g)
	if err != nil {
		return 0, errors.E(err, fmt.Sprintf("library size of %d pairs, %d unique", readPairs, uniqueReadPairs))
	}
	for i := 0; i < librarySizeIterations; i++ {
		mid := (lo + hi) / 2
		v := g(mid)
		if v == 0 {
			break
		}
		if v > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return uint64(c * (lo + hi) / 2), nil
}

// bracketLibrarySize returns multipliers lo < hi with g(lo) >= 0 > g(hi).
// hi grows by factors of ten from 100. When the counts are large and
// nearly equal it overflows before g turns negative.
func bracketLibrarySize(g func(float64) float64) (lo, hi float64, err error) {
	lo, hi = 1, 100
	for g(hi) >= 0 {
		hi *= 10
		if math.IsInf(hi, 1) {
			return 0, 0, errors.E(errors.Invalid, "cannot bracket the library size")
		}
	}
	return lo, hi, nil
}

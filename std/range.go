// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package std

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/xtaci/gf16proc/proc"
)

var rangeMatcher = regexp.MustCompile(`^([0-9]+)-([0-9]+)$`)

// ParseAllocation parses a backend allocation such as "0-4096,4096-8192",
// one start-end byte range per backend.
func ParseAllocation(s string) ([]proc.Range, error) {
	var ranges []proc.Range
	for _, part := range strings.Split(s, ",") {
		matches := rangeMatcher.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) != 3 {
			return nil, errors.Errorf("malformed range:%v", part)
		}
		start, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, errors.WithStack(err)
		}
		end, err := strconv.Atoi(matches[2])
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if end < start {
			return nil, errors.Errorf("invalid range specified: start:%v -> end %v", start, end)
		}
		ranges = append(ranges, proc.Range{Offset: start, Size: end - start})
	}
	return ranges, nil
}

// FormatAllocation is the inverse of ParseAllocation.
func FormatAllocation(ranges []proc.Range) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = strconv.Itoa(r.Offset) + "-" + strconv.Itoa(r.End())
	}
	return strings.Join(parts, ",")
}

// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package n2

// editDistance computes the Levenshtein distance between s1 and s2, for
// State.SpellcheckNode's "did you mean" diagnostics. This is the classic
// dynamic-programming algorithm:
//
//	http://en.wikipedia.org/wiki/LevenshteinDistance
//
// Only one row plus one scalar are kept at a time instead of a full m x n
// table: to update one entry, only the entries to the left, top, and
// top-left are needed. The left entry is row[x-1], the top entry is what's
// in row[x] from the last iteration, and the top-left entry is kept in
// previous.
func editDistance(s1, s2 string, allowReplacements bool, maxEditDistance int) int {
	m := len(s1)
	n := len(s2)

	row := make([]int, n+1)
	for i := 1; i <= n; i++ {
		row[i] = i
	}

	for y := 1; y <= m; y++ {
		row[0] = y
		bestThisRow := row[0]

		previous := y - 1
		for x := 1; x <= n; x++ {
			oldRow := row[x]
			if allowReplacements {
				v := 0
				if s1[y-1] != s2[x-1] {
					v = 1
				}
				row[x] = minInt(previous+v, minInt(row[x-1], row[x])+1)
			} else {
				if s1[y-1] == s2[x-1] {
					row[x] = previous
				} else {
					row[x] = minInt(row[x-1], row[x]) + 1
				}
			}
			previous = oldRow
			bestThisRow = minInt(bestThisRow, row[x])
		}

		if maxEditDistance != 0 && bestThisRow > maxEditDistance {
			return maxEditDistance + 1
		}
	}

	return row[n]
}

func minInt(i, j int) int {
	if i < j {
		return i
	}
	return j
}

package status

import (
	"regexp"
	"strconv"
	"strings"

	"mirrorctl/internal/model"
	"mirrorctl/internal/units"
)

var (
	parenthesized = regexp.MustCompile(`\(([^)]*)\)`)
	checkedCount  = regexp.MustCompile(`#([^,]*),`)
	remainCount   = regexp.MustCompile(`=([^/]*)/`)
)

// ParseTransfer reads rsync --info=progress2 output such as
//
//	  1.23G  45%   10.00MB/s    0:01:00 (xfr#123, to-chk=456/789)
//
// Lines without a rate are file names being transferred. The three counters
// are reported only when all of them parse.
func ParseTransfer(lines []string) *model.Transfer {
	t := &model.Transfer{}
	var checked, remaining, total string

	for _, line := range lines {
		switch {
		case strings.Contains(line, "B/s"):
			if strings.Contains(line, "xfr") {
				if m := parenthesized.FindStringSubmatch(line); m != nil {
					chk := m[1]
					checked = firstGroup(checkedCount, chk)
					remaining = firstGroup(remainCount, chk)
					if parts := strings.Split(chk, "/"); len(parts) > 1 {
						total = parts[1]
					}
				}
			}

			if fields := strings.Fields(line); len(fields) >= 4 {
				t.Transferred = units.DecimalToBinary(fields[0])
				t.Rate = fields[1]
				t.Speed = fields[2]
				t.Remain = fields[3]
			}
		case strings.TrimSpace(line) != "":
			segments := strings.Split(line, "/")
			t.FileName = strings.TrimSpace(segments[len(segments)-1])
		}
	}

	c, errC := strconv.Atoi(checked)
	r, errR := strconv.Atoi(remaining)
	n, errN := strconv.Atoi(total)
	if errC == nil && errR == nil && errN == nil {
		t.Checked, t.Remaining, t.Total = c, r, n
	}

	return t
}

func firstGroup(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

package retrieval

import (
	"regexp"
	"strconv"
	"time"
)

// Deterministic date patterns recognized in query text. Only explicit
// numeric forms are matched, relative expressions ("last week") are out
// of scope for filter extraction.
var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
	cjkDatePattern   = regexp.MustCompile(`(\d{1,2})月(\d{1,2})日`)
	cjkMonthPattern  = regexp.MustCompile(`(\d{1,2})月`)
)

// ExtractDateFilter scans query text for an explicit date reference and
// converts it into year/month filters. Month-day forms without a year
// assume the current year. Returns nil pointers when the query carries
// no recognizable date.
func ExtractDateFilter(query string, now time.Time) (year *int, month *int) {
	if m := isoDatePattern.FindStringSubmatch(query); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if validMonth(mo) {
			return &y, &mo
		}
		return &y, nil
	}

	if m := cjkDatePattern.FindStringSubmatch(query); m != nil {
		mo, _ := strconv.Atoi(m[1])
		if validMonth(mo) {
			y := now.Year()
			return &y, &mo
		}
	}

	if m := slashDatePattern.FindStringSubmatch(query); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		if validMonth(mo) && d >= 1 && d <= 31 {
			y := now.Year()
			return &y, &mo
		}
	}

	if m := cjkMonthPattern.FindStringSubmatch(query); m != nil {
		mo, _ := strconv.Atoi(m[1])
		if validMonth(mo) {
			y := now.Year()
			return &y, &mo
		}
	}

	return nil, nil
}

func validMonth(m int) bool {
	return m >= 1 && m <= 12
}

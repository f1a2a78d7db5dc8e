package report

import "time"

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func unixTime(s float64) time.Time {
	sec := int64(s)
	return time.Unix(sec, int64((s-float64(sec))*1e9))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package store

import "time"

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

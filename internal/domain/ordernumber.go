package domain

import (
	"fmt"
	"time"
)

const orderNumberPrefix = "ORD-"

// OrderNumberDayPrefix returns the "ORD-YYYYMMDD-" prefix shared by every
// order number issued on day.
func OrderNumberDayPrefix(day time.Time) string {
	return orderNumberPrefix + day.Format("20060102") + "-"
}

func FormatOrderNumber(day time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", OrderNumberDayPrefix(day), seq)
}

// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package sensor

import (
	"net/url"
	"time"

	"github.com/relabs-tech/sensorhub/core"
)

// Order selects the sort order of a listing
type Order string

// supported orders. OrderNone lists readings in insertion order.
const (
	OrderNone      Order = ""
	OrderValue     Order = "value"
	OrderTimestamp Order = "timestamp"
)

// ParseOrder parses the order-by query parameter
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderNone, OrderValue, OrderTimestamp:
		return Order(s), nil
	}
	return OrderNone, core.Validation("order-by", "must be one of value, timestamp")
}

func (o Order) clause() string {
	switch o {
	case OrderValue:
		return "value, id"
	case OrderTimestamp:
		return "timestamp, id"
	}
	return "id"
}

// Filter restricts a listing of readings. Both time bounds are inclusive.
type Filter struct {
	DeviceID string
	Start    *time.Time
	End      *time.Time
	OrderBy  Order
}

// ParseFilter reads a filter from the query parameters device-id, start-date,
// end-date and order-by.
func ParseFilter(query url.Values) (Filter, error) {
	f := Filter{DeviceID: query.Get("device-id")}
	var err error
	if f.OrderBy, err = ParseOrder(query.Get("order-by")); err != nil {
		return f, err
	}
	if s := query.Get("start-date"); s != "" {
		t, err := ParseTimestamp(s)
		if err != nil {
			return f, core.Validation("start-date", "%s", err.(*core.ValidationError).Message)
		}
		f.Start = &t
	}
	if s := query.Get("end-date"); s != "" {
		t, err := ParseTimestamp(s)
		if err != nil {
			return f, core.Validation("end-date", "%s", err.(*core.ValidationError).Message)
		}
		f.End = &t
	}
	return f, nil
}

// Match returns true if reading r passes the filter. Repositories evaluate filters in
// SQL; Match is the reference semantics used by in-memory stores.
func (f Filter) Match(r Reading) bool {
	if f.DeviceID != "" && r.DeviceID != f.DeviceID {
		return false
	}
	if f.Start != nil && r.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && r.Timestamp.After(*f.End) {
		return false
	}
	return true
}

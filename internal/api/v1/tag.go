package v1

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the kind of user interaction a tag records.
type Action string

const (
	ActionView Action = "VIEW"
	ActionBuy  Action = "BUY"
)

// Actions lists every valid action, in a stable order.
var Actions = []Action{ActionView, ActionBuy}

// ParseAction converts the wire representation into an Action.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(s)) {
	case ActionView:
		return ActionView, nil
	case ActionBuy:
		return ActionBuy, nil
	default:
		return "", fmt.Errorf("unknown action %q (must be VIEW or BUY)", s)
	}
}

func (a Action) Valid() bool {
	return a == ActionView || a == ActionBuy
}

func (a Action) String() string { return string(a) }

// Device is the client device class reported alongside a tag.
type Device string

const (
	DevicePC     Device = "PC"
	DeviceMobile Device = "MOBILE"
	DeviceTV     Device = "TV"
)

func (d Device) Valid() bool {
	return d == DevicePC || d == DeviceMobile || d == DeviceTV
}

// timeFormatMillis is the canonical event-time wire format: RFC3339 with
// millisecond precision and a literal Z suffix.
const timeFormatMillis = "2006-01-02T15:04:05.000Z"

// EventTime wraps time.Time to fix the JSON representation used on both the
// HTTP boundary and the queue.
type EventTime struct {
	time.Time
}

func NewEventTime(t time.Time) EventTime {
	return EventTime{t.UTC()}
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(timeFormatMillis))
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid event time %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// ProductInfo carries the product dimensions of a tag.
type ProductInfo struct {
	ProductID  string          `json:"product_id"`
	BrandID    string          `json:"brand_id"`
	CategoryID string          `json:"category_id"`
	Price      decimal.Decimal `json:"price"`
}

// TagEvent is the atomic fact of the system: one recorded user action with
// its timestamp and dimensional attributes. Immutable once ingested.
type TagEvent struct {
	// EventID is a UUID stamped at the ingest boundary. It makes profile
	// appends idempotent under queue redelivery.
	EventID string `json:"event_id,omitempty"`

	// Time is event time, the source of truth for bucketing and retention.
	// Never the server clock.
	Time EventTime `json:"time"`

	Cookie  string      `json:"cookie"`
	Country string      `json:"country,omitempty"`
	Device  Device      `json:"device,omitempty"`
	Action  Action      `json:"action"`
	Origin  string      `json:"origin"`
	Product ProductInfo `json:"product_info"`
}

// Validate checks the structural requirements of a tag. A failure here is
// permanent: the event is malformed and must be dropped, never retried.
func (t *TagEvent) Validate() error {
	if t.Cookie == "" {
		return fmt.Errorf("cookie is required")
	}
	if t.Time.IsZero() {
		return fmt.Errorf("time is required")
	}
	if !t.Action.Valid() {
		return fmt.Errorf("invalid action %q", t.Action)
	}
	if t.Device != "" && !t.Device.Valid() {
		return fmt.Errorf("invalid device %q", t.Device)
	}
	if t.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if t.Product.ProductID == "" {
		return fmt.Errorf("product_info.product_id is required")
	}
	if t.Product.BrandID == "" {
		return fmt.Errorf("product_info.brand_id is required")
	}
	if t.Product.CategoryID == "" {
		return fmt.Errorf("product_info.category_id is required")
	}
	if t.Product.Price.IsNegative() {
		return fmt.Errorf("product_info.price must be non-negative")
	}
	return nil
}

// EncodeTag serializes a tag for the queue.
func EncodeTag(t *TagEvent) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTag deserializes a queue payload into a tag.
func DecodeTag(data []byte) (*TagEvent, error) {
	var t TagEvent
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}
	return &t, nil
}

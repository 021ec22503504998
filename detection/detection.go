// Package detection shapes raw detector output into the response contract.
package detection

import (
	"bytes"
	"encoding/json"
	"fmt"

	iface "FoodDetServer/interface"
)

// ClassTable maps class ids to names. It is read-only after startup.
type ClassTable []string

// Name resolves id, synthesising "Class {id}" for ids outside the table.
func (t ClassTable) Name(id int) string {
	if id >= 0 && id < len(t) {
		return t[id]
	}
	return fmt.Sprintf("Class %d", id)
}

type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float32 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

// ClassCounts counts detections per class name and remembers the order in
// which names were first seen. It marshals to a JSON object in that order.
type ClassCounts struct {
	order  []string
	counts map[string]int
}

func NewClassCounts() *ClassCounts {
	return &ClassCounts{counts: make(map[string]int)}
}

// Add increments name by n.
func (c *ClassCounts) Add(name string, n int) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name] += n
}

func (c *ClassCounts) Get(name string) int { return c.counts[name] }

func (c *ClassCounts) Len() int { return len(c.order) }

// Names returns class names in first-seen order.
func (c *ClassCounts) Names() []string {
	return append([]string(nil), c.order...)
}

// Map returns an unordered copy.
func (c *ClassCounts) Map() map[string]int {
	m := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		m[k] = v
	}
	return m
}

func (c *ClassCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%d", c.counts[name])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the key order of the encoded object.
func (c *ClassCounts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("class counts: expected object, got %v", tok)
	}
	*c = ClassCounts{counts: make(map[string]int)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var n int
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("class counts %q: %w", name, err)
		}
		c.Add(name, n)
	}
	_, err = dec.Token()
	return err
}

// Process turns raw detector output into detections, in encounter order,
// plus per-class counts. Coordinates are truncated to integers. Nothing is
// filtered, sorted or deduplicated.
func Process(raw []iface.RawResult, classes ClassTable) ([]Detection, *ClassCounts) {
	detections := make([]Detection, 0)
	counts := NewClassCounts()
	for _, result := range raw {
		for _, box := range result.Boxes {
			name := classes.Name(box.ClassID)
			counts.Add(name, 1)
			detections = append(detections, Detection{
				ClassID:    box.ClassID,
				ClassName:  name,
				Confidence: box.Conf,
				BBox: [4]int{
					int(box.XYXY[0]),
					int(box.XYXY[1]),
					int(box.XYXY[2]),
					int(box.XYXY[3]),
				},
			})
		}
	}
	return detections, counts
}

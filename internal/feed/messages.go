package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// unknownIntensity marks an event whose source did not report a maximum
// intensity. The marker ends up verbatim in notification bodies.
const unknownIntensity = "未知"

// envelope extracts the type discriminator shared by every feed frame.
type envelope struct {
	Type string `json:"type"`
}

// Frames that carry no event payload.
var controlTypes = map[string]struct{}{
	"heartbeat":   {},
	"pong":        {},
	"jma_eqlist":  {},
	"cenc_eqlist": {},
}

var errNoCoordinates = errors.New("payload missing Latitude/Longitude")
var errNoMagnitude = errors.New("payload missing Magnitude")

// Decode classifies one feed text frame.
//
// It returns ok=false with a nil error for control frames (heartbeats,
// pongs, catalog lists) that are acknowledged but carry no event. A non-nil
// error means the frame claimed to be an alert but could not be decoded;
// callers log and drop it.
func Decode(raw []byte) (Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if _, skip := controlTypes[env.Type]; skip {
		return Event{SourceType: env.Type}, false, nil
	}

	ev, err := decodeAlert(env.Type, raw)
	if err != nil {
		return Event{}, false, fmt.Errorf("decode %s alert: %w", env.Type, err)
	}
	return ev, true, nil
}

// The upstream aggregator multiplexes several agencies, each with its own
// field names, units and even a historical misspelling of "Magnitude".
// Every known schema gets its own variant; anything else goes through the
// tolerant generic extraction.
func decodeAlert(typ string, raw []byte) (Event, error) {
	switch typ {
	case "jma_eew":
		var m jmaAlert
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, err
		}
		return m.normalize(), nil
	case "sc_eew":
		var m sichuanAlert
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, err
		}
		return m.normalize(), nil
	case "cenc_eew":
		var m cencAlert
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, err
		}
		return m.normalize(), nil
	case "fj_eew":
		var m fujianAlert
		if err := json.Unmarshal(raw, &m); err != nil {
			return Event{}, err
		}
		return m.normalize(), nil
	default:
		var m genericAlert
		if err := json.Unmarshal(raw, &m.fields); err != nil {
			return Event{}, err
		}
		m.typ = typ
		return m.normalize()
	}
}

// jmaAlert is the Japan Meteorological Agency schema. Note the upstream
// "Magunitude" misspelling; it is part of the wire format.
type jmaAlert struct {
	EventID       string  `json:"EventID"`
	AnnouncedTime string  `json:"AnnouncedTime"` // UTC+9
	OriginTime    string  `json:"OriginTime"`    // UTC+9
	Hypocenter    string  `json:"Hypocenter"`
	Latitude      float64 `json:"Latitude"`
	Longitude     float64 `json:"Longitude"`
	Magnitude     float64 `json:"Magunitude"`
	Depth         float64 `json:"Depth"`
	MaxIntensity  string  `json:"MaxIntensity"`
}

func (m jmaAlert) normalize() Event {
	return Event{
		Latitude:     m.Latitude,
		Longitude:    m.Longitude,
		Magnitude:    m.Magnitude,
		Depth:        m.Depth,
		MaxIntensity: m.MaxIntensity,
		Region:       m.Hypocenter,
		OriginTime:   m.OriginTime,
		SourceType:   "jma_eew",
	}
}

// sichuanAlert is the Sichuan seismological bureau schema; intensity is
// numeric there.
type sichuanAlert struct {
	EventID      string  `json:"EventID"`
	OriginTime   string  `json:"OriginTime"` // UTC+8
	HypoCenter   string  `json:"HypoCenter"`
	Latitude     float64 `json:"Latitude"`
	Longitude    float64 `json:"Longitude"`
	Magnitude    float64 `json:"Magunitude"`
	Depth        float64 `json:"Depth"`
	MaxIntensity float64 `json:"MaxIntensity"`
}

func (m sichuanAlert) normalize() Event {
	return Event{
		Latitude:     m.Latitude,
		Longitude:    m.Longitude,
		Magnitude:    m.Magnitude,
		Depth:        m.Depth,
		MaxIntensity: formatNumber(m.MaxIntensity),
		Region:       m.HypoCenter,
		OriginTime:   m.OriginTime,
		SourceType:   "sc_eew",
	}
}

// cencAlert is the China Earthquake Networks Center schema; the only one
// spelling "Magnitude" correctly.
type cencAlert struct {
	EventID      string  `json:"EventID"`
	OriginTime   string  `json:"OriginTime"` // UTC+8
	HypoCenter   string  `json:"HypoCenter"`
	Latitude     float64 `json:"Latitude"`
	Longitude    float64 `json:"Longitude"`
	Magnitude    float64 `json:"Magnitude"`
	Depth        float64 `json:"Depth"`
	MaxIntensity float64 `json:"MaxIntensity"`
}

func (m cencAlert) normalize() Event {
	return Event{
		Latitude:     m.Latitude,
		Longitude:    m.Longitude,
		Magnitude:    m.Magnitude,
		Depth:        m.Depth,
		MaxIntensity: formatNumber(m.MaxIntensity),
		Region:       m.HypoCenter,
		OriginTime:   m.OriginTime,
		SourceType:   "cenc_eew",
	}
}

// fujianAlert is the Fujian seismological bureau schema; it reports neither
// depth nor maximum intensity.
type fujianAlert struct {
	EventID    string  `json:"EventID"`
	OriginTime string  `json:"OriginTime"` // UTC+8
	HypoCenter string  `json:"HypoCenter"`
	Latitude   float64 `json:"Latitude"`
	Longitude  float64 `json:"Longitude"`
	Magnitude  float64 `json:"Magunitude"`
	IsFinal    bool    `json:"isFinal"`
}

func (m fujianAlert) normalize() Event {
	return Event{
		Latitude:     m.Latitude,
		Longitude:    m.Longitude,
		Magnitude:    m.Magnitude,
		Depth:        0,
		MaxIntensity: unknownIntensity,
		Region:       m.HypoCenter,
		OriginTime:   m.OriginTime,
		SourceType:   "fj_eew",
	}
}

// genericAlert is the fallback variant for unrecognized discriminators. It
// keeps the raw key-value payload and extracts the minimally required
// fields, tolerating both historical field-name spellings.
type genericAlert struct {
	typ    string
	fields map[string]json.RawMessage
}

func (m genericAlert) normalize() (Event, error) {
	lat, ok := m.number("Latitude")
	if !ok {
		return Event{}, errNoCoordinates
	}
	lon, ok := m.number("Longitude")
	if !ok {
		return Event{}, errNoCoordinates
	}
	mag, ok := m.number("Magnitude")
	if !ok {
		mag, ok = m.number("Magunitude")
	}
	if !ok {
		return Event{}, errNoMagnitude
	}

	depth, _ := m.number("Depth")

	maxIntensity := unknownIntensity
	if s, ok := m.text("MaxIntensity"); ok {
		maxIntensity = s
	} else if n, ok := m.number("MaxIntensity"); ok {
		maxIntensity = formatNumber(n)
	}

	region, ok := m.text("HypoCenter")
	if !ok {
		region, _ = m.text("Hypocenter")
	}
	originTime, _ := m.text("OriginTime")

	return Event{
		Latitude:     lat,
		Longitude:    lon,
		Magnitude:    mag,
		Depth:        depth,
		MaxIntensity: maxIntensity,
		Region:       region,
		OriginTime:   originTime,
		SourceType:   m.typ,
	}, nil
}

func (m genericAlert) number(key string) (float64, bool) {
	raw, ok := m.fields[key]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func (m genericAlert) text(key string) (string, bool) {
	raw, ok := m.fields[key]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

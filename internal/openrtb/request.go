// Package openrtb provides the OpenRTB-shaped data model consumed by the
// bid engine. Only the subset the engine evaluates is modeled; unknown
// fields on the wire are ignored by encoding/json.
package openrtb

import "encoding/json"

// BidRequest represents an incoming bid opportunity set
type BidRequest struct {
	ID     string          `json:"id"`
	Imp    []Imp           `json:"imp"`
	Site   *Site           `json:"site,omitempty"`
	Device *Device         `json:"device,omitempty"`
	User   *User           `json:"user,omitempty"`
	TMax   int             `json:"tmax,omitempty"` // Max time in ms for bid response
	Cur    []string        `json:"cur,omitempty"`  // Allowed currencies
	Ext    json.RawMessage `json:"ext,omitempty"`
}

// Imp represents a single impression (ad slot) up for auction
type Imp struct {
	ID          string          `json:"id"`
	Banner      *Banner         `json:"banner,omitempty"`
	Video       *Video          `json:"video,omitempty"`
	TagID       string          `json:"tagid,omitempty"`
	BidFloor    float64         `json:"bidfloor,omitempty"`
	BidFloorCur string          `json:"bidfloorcur,omitempty"`
	Ext         json.RawMessage `json:"ext,omitempty"`
}

// Banner represents a banner slot
type Banner struct {
	Format []Format `json:"format,omitempty"`
	W      int      `json:"w,omitempty"`
	H      int      `json:"h,omitempty"`
	Mimes  []string `json:"mimes,omitempty"`
	Pos    int      `json:"pos,omitempty"`
}

// Format represents an acceptable banner size
type Format struct {
	W int `json:"w,omitempty"`
	H int `json:"h,omitempty"`
}

// Video represents a video slot
type Video struct {
	Mimes       []string `json:"mimes,omitempty"`
	MinDuration int      `json:"minduration,omitempty"`
	MaxDuration int      `json:"maxduration,omitempty"`
	W           int      `json:"w,omitempty"`
	H           int      `json:"h,omitempty"`
}

// Site represents the page the impression is served on
type Site struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Cat      []string `json:"cat,omitempty"`
	Page     string   `json:"page,omitempty"`
	Keywords string   `json:"keywords,omitempty"`
}

// Device describes the requesting device
type Device struct {
	UA         string `json:"ua,omitempty"`
	IP         string `json:"ip,omitempty"`
	Geo        *Geo   `json:"geo,omitempty"`
	DeviceType int    `json:"devicetype,omitempty"` // 1=mobile/tablet, 2=pc, 3=ctv, 4=phone, 5=tablet
	Make       string `json:"make,omitempty"`
	Model      string `json:"model,omitempty"`
	OS         string `json:"os,omitempty"`
	OSV        string `json:"osv,omitempty"`
}

// Geo describes a geographic location
type Geo struct {
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	Country string  `json:"country,omitempty"`
	Region  string  `json:"region,omitempty"`
	City    string  `json:"city,omitempty"`
}

// User describes the (anonymous) user behind the request
type User struct {
	ID       string `json:"id,omitempty"`
	YOB      int    `json:"yob,omitempty"` // Year of birth
	Gender   string `json:"gender,omitempty"`
	Keywords string `json:"keywords,omitempty"` // Comma-separated interests
}

// IsMobile reports whether the device type is a mobile-class device
func (d *Device) IsMobile() bool {
	return d != nil && (d.DeviceType == 1 || d.DeviceType == 4 || d.DeviceType == 5)
}

package model

// Row is one air-quality observation. The overlay never interprets a
// row's fields beyond what the local datasource's filter matching needs;
// everywhere else it is carried opaquely and serialized verbatim into
// chunk payloads.
type Row struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	AQI       int     `json:"aqi"`
	SiteName  string  `json:"site_name"`
	Date      string  `json:"date"`
}

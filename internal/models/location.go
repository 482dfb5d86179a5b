package models

// LatLng is a geographical point in decimal degrees.
type LatLng struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// Place is a trip endpoint. Label holds the user-facing query or address,
// Position is set when the place was resolved to coordinates.
type Place struct {
	Label    string  `bson:"label,omitempty" json:"label,omitempty"`
	Position *LatLng `bson:"position,omitempty" json:"position,omitempty"`
}

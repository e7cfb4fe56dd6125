package models

// Address 逆地理编码结果
type Address struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Provider         string  `json:"provider"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	Country          string  `json:"country,omitempty"`
	Province         string  `json:"province,omitempty"`
	City             string  `json:"city,omitempty"`
	District         string  `json:"district,omitempty"`
	Township         string  `json:"township,omitempty"`
	Street           string  `json:"street,omitempty"`
	StreetNumber     string  `json:"street_number,omitempty"`
}

package models

// Listing is the catalog's view of a bookable resource. The engine only
// reads it; the catalog owns it.
type Listing struct {
	ID        string `yaml:"id" json:"id"`
	Title     string `yaml:"title" json:"title"`
	HostID    string `yaml:"host_id" json:"hostId"`
	MaxGuests int    `yaml:"max_guests" json:"maxGuests"`
	IsActive  bool   `yaml:"is_active" json:"isActive"`
}

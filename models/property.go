package models

import (
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryHouse     Category = "house"
	CategoryApartment Category = "apartment"
	CategoryLand      Category = "land"
	CategoryPrefab    Category = "prefab"
)

// Categories lists every category in table order.
var Categories = []Category{CategoryHouse, CategoryApartment, CategoryLand, CategoryPrefab}

type Operation string

const (
	OperationSale        Operation = "sale"
	OperationLease       Operation = "lease"
	OperationSaleOrLease Operation = "sale_or_lease"
)

// NormalizedProperty is the canonical record written to a category table.
// (ExternalCode, SiteName) is the upsert key within a category.
type NormalizedProperty struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Category     Category  `json:"category" db:"-"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description" db:"description"`
	Price        int64     `json:"price" db:"price"`
	PriceUF      *float64  `json:"price_uf" db:"price_uf"`
	Operation    Operation `json:"operation" db:"operation"`
	Area         float64   `json:"area" db:"area"`
	LandArea     float64   `json:"land_area" db:"land_area"`
	Rooms        int       `json:"rooms" db:"rooms"`
	Baths        int       `json:"baths" db:"baths"`
	Parking      int       `json:"parking" db:"parking"`
	Address      string    `json:"address" db:"address"`
	Commune      string    `json:"commune" db:"commune"`
	City         string    `json:"city" db:"city"`
	Region       string    `json:"region" db:"region"`
	Amenities    []string  `json:"amenities" db:"amenities"`
	Images       []string  `json:"images" db:"images"`
	SourceID     int64     `json:"source_id" db:"source_id"`
	SourceURL    string    `json:"source_url" db:"source_url"`
	SiteName     string    `json:"site_name" db:"site_name"`
	ExternalCode string    `json:"external_code" db:"external_code"`
	ContactName  string    `json:"contact_name" db:"contact_name"`
	ContactPhone string    `json:"contact_phone" db:"contact_phone"`
	ContactEmail string    `json:"contact_email" db:"contact_email"`
	Agency       string    `json:"agency" db:"agency"`
	Active       bool      `json:"active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`

	House     *HouseDetails     `json:"house,omitempty" db:"-"`
	Apartment *ApartmentDetails `json:"apartment,omitempty" db:"-"`
	Land      *LandDetails      `json:"land,omitempty" db:"-"`
	Prefab    *PrefabDetails    `json:"prefab,omitempty" db:"-"`
}

type HouseDetails struct {
	HasYard    bool `json:"has_yard"`
	HasQuincho bool `json:"has_quincho"`
	HasPool    bool `json:"has_pool"`
	Stories    int  `json:"stories"`
}

type ApartmentDetails struct {
	HasBalcony  bool `json:"has_balcony"`
	HasTerrace  bool `json:"has_terrace"`
	Furnished   bool `json:"furnished"`
	PetsAllowed bool `json:"pets_allowed"`
	Floor       *int `json:"floor"`
}

type LandDetails struct {
	HasWater  bool `json:"has_water"`
	HasPower  bool `json:"has_power"`
	HasSewer  bool `json:"has_sewer"`
	CornerLot bool `json:"corner_lot"`
}

type PrefabDetails struct {
	Material      string `json:"material"`
	Transportable bool   `json:"transportable"`
	InstallDays   *int   `json:"install_days"`
}

// Origin attributes a record to the source it was scraped from.
type Origin struct {
	SourceID  int64
	SourceURL string
	SiteName  string
}

// CategoryStats is an aggregate over one category table.
type CategoryStats struct {
	Category     Category `json:"category"`
	Count        int      `json:"count"`
	ActiveCount  int      `json:"active_count"`
	AveragePrice float64  `json:"average_price"`
}

// CommuneCount is one row of the top-communes report.
type CommuneCount struct {
	Commune string `json:"commune"`
	Count   int    `json:"count"`
}

package model

import "time"

// ProductStock is the slice of the catalog's product row this service
// is allowed to touch: the derived reservation counter and the flag
// saying whether the counter is meaningful at all. When UnlimitedStock
// is true the counter is not maintained and must not be written.
type ProductStock struct {
	ID             string    `db:"id" json:"id"`
	ReservedStock  int64     `db:"reserved_stock" json:"reserved_stock"`
	UnlimitedStock bool      `db:"unlimited_stock" json:"unlimited_stock"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

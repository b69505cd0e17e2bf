package domain

import (
	"fmt"
	"strings"
	"time"
)

// User represents a registered account and its profile.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	Memberships  []Membership
	Perks        []int64
	CreatedAt    time.Time
}

// HasMembership reports whether m is on the user's profile.
func (u User) HasMembership(m Membership) bool {
	for _, existing := range u.Memberships {
		if existing == m {
			return true
		}
	}
	return false
}

// OwnsPerk reports whether perkID is in the user's perks.
func (u User) OwnsPerk(perkID int64) bool {
	for _, id := range u.Perks {
		if id == perkID {
			return true
		}
	}
	return false
}

// Membership is a rewards programme a user can belong to.
type Membership string

const (
	MembershipAirMiles   Membership = "AIRMILES"
	MembershipAmex       Membership = "AMEX"
	MembershipCAA        Membership = "CAA"
	MembershipMastercard Membership = "MASTERCARD"
	MembershipVisa       Membership = "VISA"
)

// Memberships lists every known programme in display order.
var Memberships = []Membership{
	MembershipAirMiles,
	MembershipAmex,
	MembershipCAA,
	MembershipMastercard,
	MembershipVisa,
}

// ParseMembership resolves a programme name case-insensitively.
func ParseMembership(raw string) (Membership, error) {
	candidate := Membership(strings.ToUpper(strings.TrimSpace(raw)))
	for _, m := range Memberships {
		if m == candidate {
			return m, nil
		}
	}
	return "", fmt.Errorf("Invalid membership type: %s", raw)
}

// Product is the category of purchase a perk applies to.
type Product string

const (
	ProductCars   Product = "CARS"
	ProductDining Product = "DINING"
	ProductHotels Product = "HOTELS"
	ProductMovies Product = "MOVIES"
)

// Products lists every product category in display order.
var Products = []Product{ProductCars, ProductDining, ProductHotels, ProductMovies}

// ParseProduct resolves a product name case-insensitively.
func ParseProduct(raw string) (Product, error) {
	candidate := Product(strings.ToUpper(strings.TrimSpace(raw)))
	for _, p := range Products {
		if p == candidate {
			return p, nil
		}
	}
	return "", fmt.Errorf("Invalid product type: %s", raw)
}

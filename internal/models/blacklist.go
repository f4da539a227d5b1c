package models

// BlacklistEntry is a known-bad deployer address with the reason it was listed
type BlacklistEntry struct {
	Address string `json:"address" db:"address"`
	Comment string `json:"comment" db:"comment"`
}

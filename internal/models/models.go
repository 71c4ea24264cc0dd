// Package models provides shared data types for the fuel price sync.
package models

import (
	"time"
)

// Brand is a fuel retail brand as published by the API.
type Brand struct {
	Name    string `json:"Name" bson:"Name"`
	BrandID int64  `json:"BrandId" bson:"BrandId"`
}

// FuelType is a fuel grade as published by the API.
type FuelType struct {
	Name   string `json:"Name" bson:"Name"`
	FuelID int64  `json:"FuelId" bson:"FuelId"`
}

// RawSite is a site record exactly as delivered by the API.
type RawSite struct {
	// SiteID is the stable site identifier and the join key for prices.
	SiteID  int64  `json:"S"`
	Address string `json:"A"`
	Name    string `json:"N"`
	BrandID int64  `json:"B"`
	// PostCode is kept as text, leading zeros matter.
	PostCode string  `json:"P"`
	Lat      float64 `json:"Lat"`
	Lng      float64 `json:"Lng"`
	// LastModifiedRaw is the unparsed "last modified" timestamp.
	LastModifiedRaw string `json:"M"`
	GooglePlaceID   string `json:"GPI"`
}

// RawSitePrice is a single observed price event as delivered by the API.
type RawSitePrice struct {
	SiteID             int64   `json:"SiteId"`
	FuelID             int64   `json:"FuelId"`
	Price              float64 `json:"Price"`
	TransactionDateUTC string  `json:"TransactionDateUtc"`
	CollectionMethod   string  `json:"CollectionMethod"`
}

// SitePrice is the current price of one fuel at one site.
type SitePrice struct {
	SiteID             int64     `json:"SiteId" bson:"SiteId"`
	FuelID             int64     `json:"FuelId" bson:"FuelId"`
	Price              float64   `json:"Price" bson:"Price"`
	TransactionDateUTC time.Time `json:"TransactionDateUtc" bson:"TransactionDateUtc"`
	CollectionMethod   string    `json:"CollectionMethod" bson:"CollectionMethod"`
}

// Site is the normalized, persisted site record.
type Site struct {
	SiteID        int64     `json:"SiteId" bson:"SiteId"`
	Address       string    `json:"Address" bson:"Address"`
	Name          string    `json:"Name" bson:"Name"`
	BrandID       int64     `json:"BrandId" bson:"BrandId"`
	PostCode      string    `json:"PostCode" bson:"PostCode"`
	Lat           float64   `json:"Lat" bson:"Lat"`
	Lng           float64   `json:"Lng" bson:"Lng"`
	LastModified  time.Time `json:"LastModified" bson:"LastModified"`
	GooglePlaceID string    `json:"GooglePlaceId" bson:"GooglePlaceId"`
	Geohash       string    `json:"Geohash" bson:"Geohash"`
	// Prices maps the decimal FuelId to that fuel's most recent price.
	Prices map[string]SitePrice `json:"Prices" bson:"Prices"`
}

// Dataset is everything a single sync run persists.
type Dataset struct {
	Brands    []Brand
	FuelTypes []FuelType
	Sites     []Site
}

// SyncResult summarizes one completed or failed sync run.
type SyncResult struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Brands     int           `json:"brands"`
	FuelTypes  int           `json:"fuel_types"`
	Sites      int           `json:"sites"`
	Prices     int           `json:"prices"`
	DryRun     bool          `json:"dry_run"`
	Error      string        `json:"error,omitempty"`
}

// SyncStatus holds the operational status of the syncer.
type SyncStatus struct {
	TotalRuns     int64       `json:"total_runs"`
	TotalErrors   int64       `json:"total_errors"`
	LastRun       *SyncResult `json:"last_run,omitempty"`
	LastSuccessAt *time.Time  `json:"last_success_at,omitempty"`
}

// StatusResponse is the response for the /status endpoint.
type StatusResponse struct {
	Status           string         `json:"status"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	SchedulerRunning bool           `json:"scheduler_running"`
	Schedule         string         `json:"schedule,omitempty"`
	NextSyncAt       *time.Time     `json:"next_sync_at,omitempty"`
	Sync             SyncStatus     `json:"sync"`
	Database         DatabaseStatus `json:"database"`
}

// DatabaseStatus holds the store connection status.
type DatabaseStatus struct {
	Backend     string `json:"backend"`
	Connected   bool   `json:"connected"`
	StoredSites *int64 `json:"stored_sites,omitempty"`
	Error       string `json:"error,omitempty"`
}

package poky

import (
	"context"
	"net/http"
	"time"
)

// Middleware represents a middleware function
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option represents a client configuration option
type Option func(*Client)

// Logger is the structured logger used across the package. Key/value pairs
// follow the message, e.g. logger.Debug("fetch", "key", key).
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DebugConfig selects which debug events are logged.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	RequestIDGen func() string
}

// FetchFunc performs the network work behind a cache entry and returns the
// raw JSON payload.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// EntryState is a point-in-time view of one cache entry.
type EntryState struct {
	Key         string
	Status      Status
	Value       []byte
	Err         error
	HasData     bool
	IsFetching  bool
	Stale       bool
	Subscribers int
	FetchedAt   time.Time
	LastAccess  time.Time
	TTL         time.Duration
}

// ListQuery selects one page of the catalog.
type ListQuery struct {
	Limit  int
	Offset int
}

// ListItem is one row of a catalog page.
type ListItem struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// ListResponse is a catalog page as returned by GET /pokemon/.
type ListResponse struct {
	Count    int        `json:"count" yaml:"count"`
	Next     *string    `json:"next" yaml:"next"`
	Previous *string    `json:"previous" yaml:"previous"`
	Results  []ListItem `json:"results" yaml:"results"`
}

// NamedResource is the {name, url} pair PokeAPI uses for references.
type NamedResource struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// TypeSlot is one typed category of a record.
type TypeSlot struct {
	Slot int           `json:"slot" yaml:"slot"`
	Type NamedResource `json:"type" yaml:"type"`
}

// Stat is one named numeric stat of a record.
type Stat struct {
	BaseStat int           `json:"base_stat" yaml:"base_stat"`
	Effort   int           `json:"effort" yaml:"effort"`
	Stat     NamedResource `json:"stat" yaml:"stat"`
}

// Sprites holds the image URLs of a record. Any of them may be absent.
type Sprites struct {
	FrontDefault     *string `json:"front_default" yaml:"front_default"`
	FrontShiny       *string `json:"front_shiny" yaml:"front_shiny"`
	FrontFemale      *string `json:"front_female" yaml:"front_female"`
	FrontShinyFemale *string `json:"front_shiny_female" yaml:"front_shiny_female"`
	BackDefault      *string `json:"back_default" yaml:"back_default"`
	BackShiny        *string `json:"back_shiny" yaml:"back_shiny"`
	BackFemale       *string `json:"back_female" yaml:"back_female"`
	BackShinyFemale  *string `json:"back_shiny_female" yaml:"back_shiny_female"`
}

// AbilitySlot is one ability of a record.
type AbilitySlot struct {
	Ability  NamedResource `json:"ability" yaml:"ability"`
	IsHidden bool          `json:"is_hidden" yaml:"is_hidden"`
	Slot     int           `json:"slot" yaml:"slot"`
}

// Detail is a single record as returned by GET /pokemon/{id}/.
type Detail struct {
	ID             int           `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Height         int           `json:"height" yaml:"height"`
	Weight         int           `json:"weight" yaml:"weight"`
	BaseExperience int           `json:"base_experience" yaml:"base_experience"`
	Types          []TypeSlot    `json:"types" yaml:"types"`
	Stats          []Stat        `json:"stats" yaml:"stats"`
	Sprites        Sprites       `json:"sprites" yaml:"sprites"`
	Abilities      []AbilitySlot `json:"abilities" yaml:"abilities"`
}

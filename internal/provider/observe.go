package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Operation names the kind of provider call an Event describes.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpSearch   Operation = "search"
)

// Event describes a single provider attempt. It is handed to an Observer
// after every call, successful or not.
type Event struct {
	Op        Operation     `json:"op"`
	Provider  string        `json:"provider"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	ErrorKind Kind          `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	Results   int           `json:"results,omitempty"`
	Digest    string        `json:"digest"`
	Health    Health        `json:"health"`
	Time      time.Time     `json:"time"`
}

// Observer receives provider attempt events. Implementations must be safe
// for concurrent use since search fan-out reports from several goroutines.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}

// Digest returns a short stable fingerprint of a prompt or query, suitable
// for logs without leaking the text itself.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:6])
}

// Package domain holds the shared types for the newsletter core: the
// subscriber record with its lifecycle status, and the catalog events that
// trigger outbound notifications. It has no dependencies beyond time.
package domain

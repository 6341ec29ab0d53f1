// Package data contains general-purpose data structures.
package data
